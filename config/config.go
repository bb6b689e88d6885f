// Package config loads service configuration from a TOML file with
// environment variable overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration for the sieged service.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	DatabaseURL   string `toml:"database_url"`
	// EventStartDate anchors all week arithmetic, YYYY-MM-DD. Empty means
	// the event has not started and range lookups report unconfigured.
	EventStartDate string `toml:"event_start_date"`
	// EventWeeks is how many UserWeek rows are provisioned per user.
	EventWeeks int    `toml:"event_weeks"`
	AuthSecret string `toml:"auth_secret"`

	Hackatime HackatimeConfig `toml:"hackatime"`
	Slack     SlackConfig     `toml:"slack"`
	Log       LogConfig       `toml:"log"`
	Jobs      JobsConfig      `toml:"jobs"`
	Tracing   TracingConfig   `toml:"tracing"`
}

// HackatimeConfig configures the external time-tracking client.
type HackatimeConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	TeamPrefix     string   `toml:"team_prefix"`
	ConnectTimeout duration `toml:"connect_timeout"`
	ReadTimeout    duration `toml:"read_timeout"`
	RatePerMinute  int      `toml:"rate_per_minute"`
}

// SlackConfig configures outbound notifications.
type SlackConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Env        string `toml:"env"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// TracingConfig configures the OTLP trace exporter. An empty endpoint
// leaves tracing off.
type TracingConfig struct {
	Endpoint    string `toml:"endpoint"`
	Environment string `toml:"environment"`
	Insecure    bool   `toml:"insecure"`
}

// JobsConfig configures background job cadence.
type JobsConfig struct {
	SweepInterval    duration `toml:"sweep_interval"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	ExportInterval   duration `toml:"export_interval"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration converts the TOML duration wrapper.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns a runnable local configuration.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		EventWeeks:    14,
		Hackatime: HackatimeConfig{
			BaseURL:        "https://hackatime.hackclub.com",
			TeamPrefix:     "T0266FRGM-",
			ConnectTimeout: duration(10 * time.Second),
			ReadTimeout:    duration(30 * time.Second),
			RatePerMinute:  120,
		},
		Log: LogConfig{Env: "dev"},
		Jobs: JobsConfig{
			SweepInterval:    duration(10 * time.Minute),
			SnapshotInterval: duration(time.Hour),
			ExportInterval:   duration(30 * time.Minute),
		},
	}
}

// Load reads the TOML file at path (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.EventWeeks <= 0 {
		cfg.EventWeeks = 14
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIEGE_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("SIEGE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SIEGE_EVENT_START_DATE"); v != "" {
		cfg.EventStartDate = v
	}
	if v := os.Getenv("SIEGE_EVENT_WEEKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventWeeks = n
		}
	}
	if v := os.Getenv("SIEGE_AUTH_SECRET"); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv("SIEGE_HACKATIME_BASE_URL"); v != "" {
		cfg.Hackatime.BaseURL = v
	}
	if v := os.Getenv("SIEGE_HACKATIME_API_KEY"); v != "" {
		cfg.Hackatime.APIKey = v
	}
	if v := os.Getenv("SIEGE_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("SIEGE_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("SIEGE_OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}
