package devices

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Schema creates the settings table and its change trigger.
//
//go:embed schema.sql
var Schema string

// NotifyChannel is signalled by a trigger on scoreboard_settings (see schema.sql).
const NotifyChannel = "scoreboard_settings_changed"

// PGStore reads settings from the scoreboard_settings table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM scoreboard_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// WatchConfig controls the settings change listener.
type WatchConfig struct {
	DatabaseURL  string
	PingInterval time.Duration
}

func DefaultWatchConfig() WatchConfig {
	return WatchConfig{PingInterval: 90 * time.Second}
}

// Watch calls onChange whenever a setting changes, until ctx is done. A dropped listener
// connection reconnects on its own and triggers onChange once, since changes may have been
// missed meanwhile.
func Watch(ctx context.Context, cfg WatchConfig, onChange func()) error {
	l := pq.NewListener(cfg.DatabaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Msg("settings listener event")
		}
	})
	defer l.Close()
	if err := l.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen to channel: %w", err)
	}
	log.Info().Str("channel", NotifyChannel).Msg("watching device settings")

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-l.Notify:
			if note == nil {
				log.Warn().Msg("settings listener reconnected")
			} else {
				log.Info().Str("key", note.Extra).Msg("device setting changed")
			}
			onChange()
		case <-ping.C:
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping settings listener")
			}
		}
	}
}
