package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete lspadapter configuration.
type Config struct {
	// LogLevel is the minimum log level.
	LogLevel string `toml:"log_level"`

	// InstallRoot holds one directory per adapter with its runtime dependencies.
	InstallRoot string `toml:"install_root"`

	// Platform overrides the detected "os/arch" pair used by the bootstrap gate.
	Platform string `toml:"platform"`

	Timeouts Timeouts `toml:"timeouts"`
	Query    Query    `toml:"query"`
}

// Timeouts bounds every blocking step of a session.
type Timeouts struct {
	// Initialize bounds the initialize request.
	Initialize Duration `toml:"initialize"`
	// Ready bounds the wait for the readiness marker.
	Ready Duration `toml:"ready"`
	// Request bounds each query request.
	Request Duration `toml:"request"`
	// Shutdown bounds the shutdown request.
	Shutdown Duration `toml:"shutdown"`
	// KillGrace is how long to wait for exit before killing the process.
	KillGrace Duration `toml:"kill_grace"`
}

// Query configures caller-side mitigation for premature empty results.
type Query struct {
	// EmptyRetryDelay is the pause before retrying a query that came back empty.
	EmptyRetryDelay Duration `toml:"empty_retry_delay"`
	// EmptyRetryAttempts is the number of retries; 0 disables retrying.
	EmptyRetryAttempts int `toml:"empty_retry_attempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		InstallRoot: defaultInstallRoot(),
		Timeouts: Timeouts{
			Initialize: Duration(60 * time.Second),
			Ready:      Duration(5 * time.Minute),
			Request:    Duration(30 * time.Second),
			Shutdown:   Duration(5 * time.Second),
			KillGrace:  Duration(2 * time.Second),
		},
		Query: Query{
			EmptyRetryDelay:    Duration(time.Second),
			EmptyRetryAttempts: 1,
		},
	}
}

func defaultInstallRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lspadapter")
	}
	return filepath.Join(os.TempDir(), "lspadapter")
}

// Load reads the file at path over the defaults, then applies the
// LSPADAPTER_* environment overrides. An empty path or a missing file
// leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(path, bytes.NewReader(data), &cfg); err != nil {
				return Default(), err
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Default(), err
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// LoadFromReader reads configuration from an io.Reader over the defaults.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode("<reader>", r, &cfg); err != nil {
		return Default(), err
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

func decode(source string, r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}

		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Validate checks that every value is usable.
func (c Config) Validate() error {
	if c.InstallRoot == "" {
		return &ValidationError{Path: "install_root", Value: c.InstallRoot, Message: "must not be empty"}
	}

	durations := []struct {
		path string
		d    Duration
	}{
		{"timeouts.initialize", c.Timeouts.Initialize},
		{"timeouts.ready", c.Timeouts.Ready},
		{"timeouts.request", c.Timeouts.Request},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
		{"timeouts.kill_grace", c.Timeouts.KillGrace},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &ValidationError{Path: d.path, Value: d.d.Std(), Message: "must be positive"}
		}
	}

	if c.Query.EmptyRetryAttempts < 0 {
		return &ValidationError{Path: "query.empty_retry_attempts", Value: c.Query.EmptyRetryAttempts, Message: "must not be negative"}
	}
	if c.Query.EmptyRetryDelay < 0 {
		return &ValidationError{Path: "query.empty_retry_delay", Value: c.Query.EmptyRetryDelay.Std(), Message: "must not be negative"}
	}
	return nil
}

// InstallDir returns the per-adapter installation directory.
func (c Config) InstallDir(adapter string) string {
	return filepath.Join(c.InstallRoot, adapter)
}
