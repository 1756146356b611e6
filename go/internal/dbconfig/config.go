package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds Postgres connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return NewConfig(os.LookupEnv)
}

// NewConfig reads DB_* settings through lookup. Empty values fall back to the defaults.
func NewConfig(lookup func(string) (string, bool)) Config {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	port, err := strconv.Atoi(get("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Host:            get("DB_HOST", "localhost"),
		Port:            port,
		User:            get("DB_USER", "postgres"),
		Password:        get("DB_PASSWORD", "postgres"),
		Database:        get("DB_NAME", "scoreboard"),
		SSLMode:         get("DB_SSLMODE", "disable"),
		ApplicationName: get("DB_APPLICATION_NAME", "scoreboard"),
	}
}

// DSN returns the Postgres connection URL. Credentials are escaped.
func (c Config) DSN() string {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
