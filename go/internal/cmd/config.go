package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Transport struct {
		Backend      string        `yaml:"backend"` // bluez, uart or none
		Adapter      string        `yaml:"adapter"`
		SerialBaud   int           `yaml:"serial_baud"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ScanTimeout  time.Duration `yaml:"scan_timeout"`
	} `yaml:"transport"`

	Devices struct {
		Source string `yaml:"source"` // file, env or postgres
		File   string `yaml:"file"`
	} `yaml:"devices"`

	Dispatch struct {
		MinInterval time.Duration `yaml:"min_interval"`
		ResyncDelay time.Duration `yaml:"resync_delay"`
	} `yaml:"dispatch"`

	Outbox struct {
		Enabled          bool          `yaml:"enabled"`
		QueueSize        int           `yaml:"queue_size"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
	} `yaml:"outbox"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Port:     "8080",
		LogLevel: "info",
	}
	cfg.Transport.Backend = "bluez"
	cfg.Transport.Adapter = "hci0"
	cfg.Devices.Source = "file"
	cfg.Devices.File = "devices.yaml"
	cfg.Outbox.QueueSize = 256
	cfg.Outbox.FallbackInterval = 30 * time.Second
	return cfg
}

// loadConfig reads path over the defaults, then applies environment overrides. A missing file
// is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Transport.Backend = getEnv("TRANSPORT_BACKEND", config.Transport.Backend)
	config.Transport.Adapter = getEnv("BLE_ADAPTER", config.Transport.Adapter)
	config.Transport.SerialBaud = getEnvAsInt("SERIAL_BAUD", config.Transport.SerialBaud)
	config.Transport.DialTimeout = getEnvAsDuration("DIAL_TIMEOUT", config.Transport.DialTimeout)
	config.Transport.ScanTimeout = getEnvAsDuration("SCAN_TIMEOUT", config.Transport.ScanTimeout)
	config.Devices.Source = getEnv("DEVICE_SOURCE", config.Devices.Source)
	config.Devices.File = getEnv("DEVICES_FILE", config.Devices.File)
	config.Outbox.Enabled = getEnvAsBool("OUTBOX_ENABLED", config.Outbox.Enabled)
	config.Outbox.FallbackInterval = getEnvAsDuration("FALLBACK_INTERVAL", config.Outbox.FallbackInterval)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)

	switch config.Transport.Backend {
	case "bluez", "uart", "none":
	default:
		return nil, fmt.Errorf("unknown transport backend %q", config.Transport.Backend)
	}
	switch config.Devices.Source {
	case "file", "env", "postgres":
	default:
		return nil, fmt.Errorf("unknown device source %q", config.Devices.Source)
	}

	return config, nil
}

// needsDatabase reports whether any component is backed by Postgres.
func (c *Config) needsDatabase() bool {
	return c.Outbox.Enabled || c.Devices.Source == "postgres"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid integer")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid boolean")
	}
	return defaultValue
}
