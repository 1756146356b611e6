package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/scoreboard/go/internal/dbconfig"
	"github.com/mcdev12/scoreboard/go/internal/devices"
	"github.com/mcdev12/scoreboard/go/internal/outbox"
	"gopkg.in/yaml.v3"
)

var settingKey = regexp.MustCompile(`^device(Address|Name)([1-9])$`)

// loadSettings parses a devices file (the same flat YAML map FileStore reads) and rejects keys
// the scoreboard would never look up.
func loadSettings(data []byte) (map[string]string, error) {
	var settings map[string]string
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse devices file: %w", err)
	}
	for key := range settings {
		m := settingKey.FindStringSubmatch(key)
		if m == nil {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		if slot := int(m[2][0] - '0'); slot > devices.SlotCount {
			return nil, fmt.Errorf("setting %q: slot %d out of range 1-%d", key, slot, devices.SlotCount)
		}
	}
	return settings, nil
}

func main() {
	path := flag.String("file", "devices.yaml", "devices file to seed from")
	applySchema := flag.Bool("schema", true, "create the settings and outbox tables first")
	flag.Parse()

	// 1) Load the devices file
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read devices file: %v\n", err)
		os.Exit(1)
	}
	settings, err := loadSettings(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *applySchema {
		for _, schema := range []string{devices.Schema, outbox.Schema} {
			if _, err := pool.Exec(ctx, schema); err != nil {
				fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
				os.Exit(1)
			}
		}
	}

	// 3) Upsert and count
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		total   = len(keys)
		changed int
		skipped int
		errs    int
	)
	for _, key := range keys {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO scoreboard_settings (key, value, updated_at)
            VALUES ($1, $2, now())
            ON CONFLICT (key) DO UPDATE
              SET value = EXCLUDED.value, updated_at = now()
              WHERE scoreboard_settings.value IS DISTINCT FROM EXCLUDED.value
        `, key, settings[key])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error writing setting %s: %v\n", key, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			changed++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Device seed complete: %d total, %d written, %d unchanged, %d errors\n",
		total, changed, skipped, errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}
