package transport

import (
	"context"
	"sync"
)

// session is one open link. writeMu serializes writes so a multi-byte sequence is never
// interleaved with another write to the same device.
type session struct {
	address string
	name    string
	link    Link

	writeMu  sync.Mutex
	endpoint Endpoint
	resolved bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(address, name string, link Link) *session {
	return &session{
		address: address,
		name:    name,
		link:    link,
		closed:  make(chan struct{}),
	}
}

// writeLocked writes p, resolving the endpoint on first use. Caller holds writeMu.
func (s *session) writeLocked(ctx context.Context, p []byte) error {
	if !s.resolved {
		ep, err := s.link.Resolve(ctx)
		if err != nil {
			return err
		}
		s.endpoint = ep
		s.resolved = true
	}
	if err := s.link.Write(ctx, s.endpoint, p); err != nil {
		// resolve again next time; the handle may have gone stale
		s.resolved = false
		return err
	}
	return nil
}

func (s *session) invalidate() {
	s.writeMu.Lock()
	s.endpoint = ""
	s.resolved = false
	s.writeMu.Unlock()
}

// teardown closes the link once and reports whether this call did it.
func (s *session) teardown() bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		close(s.closed)
		_ = s.link.Close()
	})
	return first
}
