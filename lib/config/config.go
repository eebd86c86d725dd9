// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/irl/matrix-floppy/lib/eventlog"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/retry"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "FLOPPY_CONFIG"

// StdinPath in password_file or key_passphrase_file reads the secret
// from standard input.
const StdinPath = "-"

// Config is the configuration of an archive run.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver.
	Homeserver string `yaml:"homeserver"`

	// Username is the localpart or full user ID to log in as.
	Username string `yaml:"username"`

	// PasswordFile holds the account password. "-" reads standard
	// input. When empty the password is prompted for on a terminal.
	PasswordFile string `yaml:"password_file"`

	// KeyFile is an optional megolm key export.
	KeyFile string `yaml:"key_file"`

	// KeyPassphraseFile holds the passphrase of KeyFile. When empty and
	// KeyFile is set, the passphrase is prompted for on a terminal.
	KeyPassphraseFile string `yaml:"key_passphrase_file"`

	// Output is the archive directory.
	Output string `yaml:"output"`

	// Logout ends the session on the server when the run finishes.
	Logout bool `yaml:"logout"`

	Sync     SyncConfig     `yaml:"sync"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Retry    retry.Policy   `yaml:"retry"`
	Rooms    RoomsConfig    `yaml:"rooms"`
	Media    MediaConfig    `yaml:"media"`
	Render   RenderConfig   `yaml:"render"`
	EventLog EventLogConfig `yaml:"eventlog"`
	Index    IndexConfig    `yaml:"index"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// SyncConfig configures the initial sync.
type SyncConfig struct {
	// TimeoutMS is the server-side long-poll timeout.
	TimeoutMS int `yaml:"timeout_ms"`

	// FilterFile replaces the built-in filter with a JSON (or JSONC)
	// filter document. TimelineLimit is ignored when it is set.
	FilterFile string `yaml:"filter_file"`

	// TimelineLimit is how many recent events per room the sync returns.
	TimelineLimit int `yaml:"timeline_limit"`
}

// FetchConfig configures backward pagination.
type FetchConfig struct {
	// PageSize is the limit sent with each /messages request.
	PageSize int `yaml:"page_size"`
	// DeduplicateEvents drops an event whose ID was already archived
	// for the same room.
	DeduplicateEvents bool `yaml:"deduplicate_events"`
}

// RoomsConfig selects the joined rooms to archive. An empty Include
// archives every joined room; Exclude is applied afterwards.
type RoomsConfig struct {
	Include []ref.RoomID `yaml:"include"`
	Exclude []ref.RoomID `yaml:"exclude"`
}

// MediaConfig configures media downloads.
type MediaConfig struct {
	Enabled bool `yaml:"enabled"`

	// Deduplicate downloads each content URI once per run.
	Deduplicate bool `yaml:"deduplicate"`
}

// RenderConfig configures the HTML pages.
type RenderConfig struct {
	Template      string `yaml:"template"`
	IndexTemplate string `yaml:"index_template"`

	// Timezone is an IANA zone name, "Local", or "UTC".
	Timezone string `yaml:"timezone"`

	AllowFormattedHTML bool   `yaml:"allow_formatted_html"`
	HighlightStyle     string `yaml:"highlight_style"`
}

// EventLogConfig configures the per-room event logs.
type EventLogConfig struct {
	Enabled         bool `yaml:"enabled"`
	eventlog.Config `yaml:",inline"`
}

// IndexConfig configures the SQLite event index.
type IndexConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig configures the Prometheus textfile.
type MetricsConfig struct {
	// Textfile is where run metrics are written. Empty disables them.
	Textfile string `yaml:"textfile"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal, json
	// otherwise).
	Format string `yaml:"format"`
}

// Default returns the configuration used as the base for loading. Only
// the homeserver and username have no default.
func Default() *Config {
	return &Config{
		Output: "saves",
		Logout: true,
		Sync: SyncConfig{
			TimeoutMS:     30000,
			TimelineLimit: 1,
		},
		Fetch: FetchConfig{PageSize: 100},
		Retry: retry.DefaultPolicy(),
		Media: MediaConfig{Enabled: true},
		Render: RenderConfig{
			Timezone:           "Local",
			AllowFormattedHTML: true,
			HighlightStyle:     "github",
		},
		EventLog: EventLogConfig{
			Config: eventlog.Config{
				Codec:       eventlog.CodecJSONL,
				Compression: eventlog.CompressionZstd,
			},
		},
		Index: IndexConfig{Enabled: true},
		Log:   LogConfig{Level: "info", Format: "auto"},
	}
}

// Load loads configuration from the path in FLOPPY_CONFIG. It fails if
// the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your floppy.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path over
// [Default]. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ~/, ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	for _, field := range []*string{
		&c.PasswordFile,
		&c.KeyFile,
		&c.KeyPassphraseFile,
		&c.Output,
		&c.Sync.FilterFile,
		&c.Render.Template,
		&c.Render.IndexTemplate,
		&c.Metrics.Textfile,
	} {
		*field = expandPath(*field, vars)
	}
}

func expandPath(path string, vars map[string]string) string {
	if strings.HasPrefix(path, "~/") {
		path = "${HOME}" + path[1:]
	}
	return expandVars(path, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver == "" {
		errs = append(errs, fmt.Errorf("homeserver is required"))
	} else if parsed, err := url.Parse(c.Homeserver); err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver must be an http or https URL: %q", c.Homeserver))
	}
	if c.Username == "" {
		errs = append(errs, fmt.Errorf("username is required"))
	}
	if c.Output == "" {
		errs = append(errs, fmt.Errorf("output is required"))
	}
	if c.KeyPassphraseFile != "" && c.KeyFile == "" {
		errs = append(errs, fmt.Errorf("key_passphrase_file is set without key_file"))
	}
	if c.PasswordFile == StdinPath && c.KeyPassphraseFile == StdinPath {
		errs = append(errs, fmt.Errorf("password_file and key_passphrase_file cannot both read standard input"))
	}

	if c.Sync.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("sync.timeout_ms must not be negative"))
	}
	if c.Sync.TimelineLimit < 1 {
		errs = append(errs, fmt.Errorf("sync.timeline_limit must be at least 1"))
	}
	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > 1000 {
		errs = append(errs, fmt.Errorf("fetch.page_size must be between 1 and 1000"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}

	for _, include := range c.Rooms.Include {
		for _, exclude := range c.Rooms.Exclude {
			if include == exclude {
				errs = append(errs, fmt.Errorf("rooms: %s is both included and excluded", include))
			}
		}
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.EventLog.Enabled {
		if err := c.EventLog.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("eventlog: %w", err))
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	formats := []string{"auto", "text", "json"}
	if !contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SyncTimeout returns the sync timeout as a duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutMS) * time.Millisecond
}

// Location returns the time zone of rendered timestamps.
func (c *Config) Location() (*time.Location, error) {
	switch c.Render.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	location, err := time.LoadLocation(c.Render.Timezone)
	if err != nil {
		return nil, fmt.Errorf("render.timezone: %w", err)
	}
	return location, nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level must be one of: [debug info warn error]")
	}
	return level, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
