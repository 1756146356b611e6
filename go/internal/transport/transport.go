// Package transport keeps one session per display device and writes command bytes to it.
// Expected failures (no session, link down, permission denied) are reported as false, never
// as an error or a panic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Endpoint is the resolved write target of a link, for example a GATT characteristic object
// path. Sessions cache it after the first successful resolution.
type Endpoint string

// Link is an open connection to one display.
type Link interface {
	// Resolve looks up the write endpoint. It may be slow (service discovery).
	Resolve(ctx context.Context) (Endpoint, error)
	// Write sends p to ep without waiting for an acknowledgement.
	Write(ctx context.Context, ep Endpoint, p []byte) error
	// Done is closed when the remote side drops the link.
	Done() <-chan struct{}
	Close() error
}

// Connector opens links by device address.
type Connector interface {
	Dial(ctx context.Context, address string) (Link, error)
}

// Scanner is implemented by connectors that can discover nearby devices. found is called for
// every advertisement seen until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, found func(address, name string)) error
}

// Observer receives connection lifecycle notifications. Callbacks run on the goroutine that
// observed the change and must not block.
type Observer interface {
	OnConnected(address, name string)
	OnDisconnected(address string)
	OnConnectionError(address string, status int)
	OnScanComplete()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Connected       func(address, name string)
	Disconnected    func(address string)
	ConnectionError func(address string, status int)
	ScanComplete    func()
}

func (o ObserverFuncs) OnConnected(address, name string) {
	if o.Connected != nil {
		o.Connected(address, name)
	}
}

func (o ObserverFuncs) OnDisconnected(address string) {
	if o.Disconnected != nil {
		o.Disconnected(address)
	}
}

func (o ObserverFuncs) OnConnectionError(address string, status int) {
	if o.ConnectionError != nil {
		o.ConnectionError(address, status)
	}
}

func (o ObserverFuncs) OnScanComplete() {
	if o.ScanComplete != nil {
		o.ScanComplete()
	}
}

// Connection status codes reported through OnConnectionError. The values follow the GATT
// status codes displays and operators already know from phone apps.
const (
	StatusGattError   = 133
	StatusConnTimeout = 8
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoSession        = errors.New("no session for address")
	ErrClosed           = errors.New("transport closed")
)

// ConnectError carries a backend status code with the dial failure.
type ConnectError struct {
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed (status %d): %v", e.Status, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StatusOf maps a dial error to the status reported to observers.
func StatusOf(err error) int {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Status
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusConnTimeout
	}
	return StatusGattError
}

// Config holds transport timeouts.
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ScanTimeout  time.Duration
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Second,
		ScanTimeout:  10 * time.Second,
	}
}
