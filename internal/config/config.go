// Package config loads the optional chat client configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config mirrors the client options that can be set from a file.
type Config struct {
	CommandSeparator string   `toml:"command_separator"`
	TrustAnchor      string   `toml:"trust_anchor"`
	DialTimeout      Duration `toml:"dial_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	PollInterval     Duration `toml:"poll_interval"`
	WriteTimeout     Duration `toml:"write_timeout"`
	Log              Log      `toml:"log"`
}

// Log configures diagnostics output.
type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"` // empty means the terminal
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CommandSeparator: "/",
		DialTimeout:      Duration{10 * time.Second},
		HandshakeTimeout: Duration{30 * time.Second},
		PollInterval:     Duration{time.Second},
		WriteTimeout:     Duration{10 * time.Second},
		Log:              Log{Level: "off"},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback.
func Validate(cfg Config) error {
	sep := cfg.CommandSeparator
	if utf8.RuneCountInString(sep) != 1 || strings.TrimSpace(sep) == "" {
		return fmt.Errorf("command_separator must be a single non-space character, got %q", sep)
	}
	for name, d := range map[string]Duration{
		"dial_timeout":      cfg.DialTimeout,
		"handshake_timeout": cfg.HandshakeTimeout,
		"poll_interval":     cfg.PollInterval,
		"write_timeout":     cfg.WriteTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
