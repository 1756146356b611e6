package transport_test

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/scoreboard/go/internal/transport"
)

type fakeLink struct {
	mu        sync.Mutex
	writes    [][]byte
	resolves  int
	failNext  bool
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{})}
}

func (l *fakeLink) Resolve(context.Context) (transport.Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolves++
	return transport.Endpoint("char0"), nil
}

func (l *fakeLink) Write(_ context.Context, _ transport.Endpoint, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext {
		l.failNext = false
		return errors.New("gatt write failed")
	}
	l.writes = append(l.writes, append([]byte(nil), p...))
	return nil
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.drop()
	return nil
}

// drop simulates the remote side going away.
func (l *fakeLink) drop() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *fakeLink) written() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []byte
	for _, w := range l.writes {
		out = append(out, w...)
	}
	return string(out)
}

func (l *fakeLink) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writes)
}

func (l *fakeLink) resolveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolves
}

type fakeConnector struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	fail  map[string]error
	dials int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{links: make(map[string]*fakeLink), fail: make(map[string]error)}
}

func (c *fakeConnector) Dial(_ context.Context, address string) (transport.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	if err := c.fail[address]; err != nil {
		return nil, err
	}
	l := newFakeLink()
	c.links[address] = l
	return l, nil
}

func (c *fakeConnector) link(address string) *fakeLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[address]
}

func (c *fakeConnector) dialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// scanningConnector reports a fixed set of advertisements, then waits for the scan to end.
type scanningConnector struct {
	*fakeConnector
	adverts [][2]string
}

func (c *scanningConnector) Scan(ctx context.Context, found func(address, name string)) error {
	for _, a := range c.adverts {
		found(a[0], a[1])
	}
	<-ctx.Done()
	return ctx.Err()
}

type recorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	errors       map[string]int
	scans        int
	dropped      chan string
}

func newRecorder() *recorder {
	return &recorder{errors: make(map[string]int), dropped: make(chan string, 8)}
}

func (r *recorder) OnConnected(address, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, address)
}

func (r *recorder) OnDisconnected(address string) {
	r.mu.Lock()
	r.disconnected = append(r.disconnected, address)
	r.mu.Unlock()
	r.dropped <- address
}

func (r *recorder) OnConnectionError(address string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[address] = status
}

func (r *recorder) OnScanComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans++
}
