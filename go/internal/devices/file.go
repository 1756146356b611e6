package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// FileStore reads settings from a flat YAML map:
//
//	deviceAddress1: "AA:BB:CC:DD:EE:01"
//	deviceName1: "Main Clock"
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// NewFileStore loads path. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file.
func (s *FileStore) Reload() error {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", s.path).Msg("devices file not found, no displays configured")
	case err != nil:
		return fmt.Errorf("failed to read devices file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("failed to parse devices file: %w", err)
		}
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
