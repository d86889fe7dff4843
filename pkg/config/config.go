// Package config loads service configuration from a YAML file overlaid by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid configuration")

// Config is the service configuration
type Config struct {
	DataDir      string        `yaml:"data_dir" env:"SQUARES_DATA_DIR"`
	HiddenUsers  []string      `yaml:"hidden_users" env:"SQUARES_HIDDEN_USERS" envSeparator:","`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"SQUARES_FETCH_TIMEOUT"`

	Discord     DiscordConfig     `yaml:"discord"`
	Squareboard SquareboardConfig `yaml:"squareboard"`
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	Influx      InfluxConfig      `yaml:"influx"`
	Warmup      WarmupConfig      `yaml:"warmup"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
}

type SquareboardConfig struct {
	Channel string `yaml:"channel" env:"SQUARES_SQUAREBOARD_CHANNEL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"SQUARES_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"SQUARES_LOG_JSON"`
}

type APIConfig struct {
	// Addr is the listen address of the HTTP API; empty disables it
	Addr string `yaml:"addr" env:"SQUARES_API_ADDR"`
}

// InfluxConfig configures the time-series sink; an empty URL disables it
type InfluxConfig struct {
	URL    string `yaml:"url" env:"INFLUX_URL"`
	Token  string `yaml:"token" env:"INFLUX_TOKEN"`
	Org    string `yaml:"org" env:"INFLUX_ORG"`
	Bucket string `yaml:"bucket" env:"INFLUX_BUCKET"`
}

type WarmupConfig struct {
	// Rate is the number of identity lookups per second; 0 is unlimited
	Rate float64 `yaml:"rate" env:"SQUARES_WARMUP_RATE"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DataDir:      "./data",
		FetchTimeout: 10 * time.Second,
		Squareboard:  SquareboardConfig{Channel: "squareboard"},
		Log:          LogConfig{Level: "info"},
		API:          APIConfig{Addr: "127.0.0.1:8080"},
		Warmup:       WarmupConfig{Rate: 5},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every command needs. The bot token is only
// required when connecting to the platform.
func (c *Config) Validate(requireToken bool) error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if requireToken && c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (DISCORD_BOT_TOKEN)"))
	}
	if c.Squareboard.Channel == "" {
		errs = append(errs, errors.New("squareboard.channel is required"))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch_timeout must not be negative"))
	}
	if c.Warmup.Rate < 0 {
		errs = append(errs, errors.New("warmup.rate must not be negative"))
	}
	if c.Influx.URL != "" && c.Influx.Bucket == "" {
		errs = append(errs, errors.New("influx.bucket is required when influx.url is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
