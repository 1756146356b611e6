package uart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/transport"
	"go.bug.st/serial"
)

type fakePort struct {
	mu      sync.Mutex
	written []byte
	err     error
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestConnector(ports map[string]*fakePort) *Connector {
	c := NewConnector(0)
	c.open = func(name string, mode *serial.Mode) (port, error) {
		if mode.BaudRate != DefaultBaudRate {
			return nil, errors.New("unexpected baud rate")
		}
		p, ok := ports[name]
		if !ok {
			return nil, errors.New("no such file or directory")
		}
		return p, nil
	}
	c.ports = func() ([]string, error) {
		names := make([]string, 0, len(ports))
		for n := range ports {
			names = append(names, n)
		}
		return names, nil
	}
	return c
}

func TestManagerWritesThroughSerialPort(t *testing.T) {
	usb0 := &fakePort{}
	c := newTestConnector(map[string]*fakePort{"/dev/ttyUSB0": usb0})
	m := transport.NewManager(transport.DefaultConfig(), c, nil, clockwork.NewFakeClock())
	defer m.Close()

	if !m.Connect(context.Background(), "/dev/ttyUSB0", "Main Clock") {
		t.Fatal("Connect failed")
	}
	if !m.Write("/dev/ttyUSB0", []byte("10000240")) || !m.Send("/dev/ttyUSB0", '-') {
		t.Fatal("write failed")
	}
	usb0.mu.Lock()
	got := string(usb0.written)
	usb0.mu.Unlock()
	if got != "10000240-" {
		t.Fatalf("written = %q", got)
	}
}

func TestDialMissingPortReportsConnectError(t *testing.T) {
	c := newTestConnector(nil)
	_, err := c.Dial(context.Background(), "/dev/ttyUSB9")
	var ce *transport.ConnectError
	if !errors.As(err, &ce) || ce.Status != transport.StatusGattError {
		t.Fatalf("err = %v, want ConnectError", err)
	}
}

func TestUnpluggedAdapterDropsLink(t *testing.T) {
	usb0 := &fakePort{}
	c := newTestConnector(map[string]*fakePort{"/dev/ttyUSB0": usb0})
	l, err := c.Dial(context.Background(), "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	usb0.mu.Lock()
	usb0.err = errors.New("write /dev/ttyUSB0: input/output error")
	usb0.mu.Unlock()

	if err := l.Write(context.Background(), "", []byte("s")); err == nil {
		t.Fatal("write to unplugged adapter succeeded")
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link not marked done")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !usb0.closed {
		t.Fatal("port not closed")
	}
}

func TestTransientWriteErrorKeepsLink(t *testing.T) {
	usb0 := &fakePort{err: errors.New("resource temporarily unavailable")}
	c := newTestConnector(map[string]*fakePort{"/dev/ttyUSB0": usb0})
	l, _ := c.Dial(context.Background(), "/dev/ttyUSB0")

	if err := l.Write(context.Background(), "", []byte("s")); err == nil {
		t.Fatal("expected write error")
	}
	select {
	case <-l.Done():
		t.Fatal("transient error dropped the link")
	default:
	}
}

func TestScanListsPorts(t *testing.T) {
	c := newTestConnector(map[string]*fakePort{"/dev/ttyUSB1": {}, "/dev/ttyUSB0": {}})
	ctx, cancel := context.WithCancel(context.Background())
	var found []string
	err := c.Scan(ctx, func(address, _ string) {
		found = append(found, address)
		if len(found) == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Scan err = %v", err)
	}
	if len(found) != 2 || found[0] != "/dev/ttyUSB0" {
		t.Fatalf("found = %v", found)
	}
}
