package devices

import (
	"context"
	"os"
	"regexp"
	"strings"
)

var settingKey = regexp.MustCompile(`^device(Address|Name)(\d+)$`)

// EnvStore maps deviceAddress1 to DEVICE_ADDRESS_1, deviceName2 to DEVICE_NAME_2 and so on.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore reads the process environment.
func NewEnvStore() EnvStore {
	return EnvStore{lookup: os.LookupEnv}
}

func (s EnvStore) Get(_ context.Context, key string) (string, error) {
	m := settingKey.FindStringSubmatch(key)
	if m == nil {
		return "", ErrNotFound
	}
	v, ok := s.lookup("DEVICE_" + strings.ToUpper(m[1]) + "_" + m[2])
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}
