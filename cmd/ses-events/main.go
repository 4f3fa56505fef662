// Package main rebuilds replayable SES test events from the index records
// the forwarder stored for a given day.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shineum/ses-forwarder/internal/backend"
	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/logging"
)

const dayLayout = "2006-01-02"

func main() {
	app := &cli.App{
		Name:  "ses-events",
		Usage: "write the most recent SES notifications of a day as test events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to YAML or TOML configuration file (optional)",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "day to export as YYYY-MM-DD (default today, UTC)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of most recent records to export",
				Value: 3,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "directory to write event files to",
				Value: ".",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("ses-events failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level)

	day, err := parseDay(c.String("day"), time.Now())
	if err != nil {
		return err
	}

	st, err := backend.Store(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	files, err := export(c.Context, st, backend.Layout(cfg), day, c.Int("count"), c.String("out"))
	if err != nil {
		return err
	}
	slog.Info("exported events", "day", day.Format(dayLayout), "files", len(files))
	return nil
}

// loadConfig loads configuration from the specified path (file + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// parseDay returns the UTC day named by s, or the day of now when s is empty.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC(), nil
	}
	day, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return day, nil
}
