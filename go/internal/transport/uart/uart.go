// Package uart drives HM-10 modules wired to a USB-UART adapter. The device address is the
// serial port name, for example /dev/ttyUSB0.
package uart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mcdev12/scoreboard/go/internal/transport"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// HM-10 modules ship at 9600 8N1.
const DefaultBaudRate = 9600

type port interface {
	Write(p []byte) (int, error)
	Close() error
}

type opener func(name string, mode *serial.Mode) (port, error)

func openSerial(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

// Connector opens serial ports. It implements transport.Connector and transport.Scanner.
type Connector struct {
	mode  serial.Mode
	open  opener
	ports func() ([]string, error)
}

// NewConnector returns a connector using baud (DefaultBaudRate when zero).
func NewConnector(baud int) *Connector {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &Connector{
		mode: serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open:  openSerial,
		ports: serial.GetPortsList,
	}
}

func (c *Connector) Dial(ctx context.Context, address string) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := c.mode
	p, err := c.open(address, &mode)
	if err != nil {
		return nil, &transport.ConnectError{Status: transport.StatusGattError, Err: fmt.Errorf("open %s: %w", address, err)}
	}
	log.Info().Str("port", address).Int("baud", mode.BaudRate).Msg("serial display opened")
	return &link{address: address, port: p, done: make(chan struct{})}, nil
}

// Scan reports every serial port present, then waits for ctx.
func (c *Connector) Scan(ctx context.Context, found func(address, name string)) error {
	names, err := c.ports()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(names)
	for _, n := range names {
		found(n, n)
	}
	<-ctx.Done()
	return ctx.Err()
}

type link struct {
	address string
	port    port

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (l *link) Resolve(context.Context) (transport.Endpoint, error) {
	return transport.Endpoint(l.address), nil
}

func (l *link) Write(ctx context.Context, _ transport.Endpoint, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.port.Write(p); err != nil {
		if isDisconnection(err) {
			l.markDone()
		}
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (l *link) Done() <-chan struct{} { return l.done }

func (l *link) Close() error {
	l.markDone()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

func (l *link) markDone() {
	l.once.Do(func() { close(l.done) })
}

// isDisconnection reports whether a write error means the adapter went away.
func isDisconnection(err error) bool {
	var portErr serial.PortError
	var portErrPtr *serial.PortError
	switch {
	case errors.As(err, &portErr):
		return lostPort(portErr.Code())
	case errors.As(err, &portErrPtr):
		return lostPort(portErrPtr.Code())
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "broken pipe")
}

func lostPort(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	}
	return false
}
