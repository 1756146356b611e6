package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DryRunConnector opens links that accept every write and log it at Debug. It backs the
// "none" transport so the service can run without display hardware.
type DryRunConnector struct{}

func (DryRunConnector) Dial(_ context.Context, address string) (Link, error) {
	return &dryRunLink{address: address, done: make(chan struct{})}, nil
}

type dryRunLink struct {
	address string
	done    chan struct{}
	once    sync.Once
}

func (l *dryRunLink) Resolve(context.Context) (Endpoint, error) {
	return Endpoint("dry-run/" + l.address), nil
}

func (l *dryRunLink) Write(_ context.Context, _ Endpoint, p []byte) error {
	log.Debug().Str("address", l.address).Str("payload", string(p)).Msg("dry run write")
	return nil
}

func (l *dryRunLink) Done() <-chan struct{} { return l.done }

func (l *dryRunLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
