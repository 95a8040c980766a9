package config

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "LSPADAPTER_"

// envMapping maps environment variables to the setting they override.
var envMapping = map[string]string{
	"LSPADAPTER_LOG_LEVEL":                  "log_level",
	"LSPADAPTER_INSTALL_ROOT":               "install_root",
	"LSPADAPTER_PLATFORM":                   "platform",
	"LSPADAPTER_TIMEOUT_INITIALIZE":         "timeouts.initialize",
	"LSPADAPTER_TIMEOUT_READY":              "timeouts.ready",
	"LSPADAPTER_TIMEOUT_REQUEST":            "timeouts.request",
	"LSPADAPTER_TIMEOUT_SHUTDOWN":           "timeouts.shutdown",
	"LSPADAPTER_TIMEOUT_KILL_GRACE":         "timeouts.kill_grace",
	"LSPADAPTER_QUERY_EMPTY_RETRY_DELAY":    "query.empty_retry_delay",
	"LSPADAPTER_QUERY_EMPTY_RETRY_ATTEMPTS": "query.empty_retry_attempts",
}

// intSettings are decoded as integers; everything else is a string.
var intSettings = map[string]bool{
	"query.empty_retry_attempts": true,
}

// EnvNames returns the supported environment variables, sorted.
func EnvNames() []string {
	names := make([]string, 0, len(envMapping))
	for name := range envMapping {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyEnv overlays the environment variables found by lookup onto cfg.
// Set but empty variables are ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	overrides := make(map[string]any)
	for _, name := range EnvNames() {
		val, ok := lookup(name)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		path := envMapping[name]

		var v any = val
		if intSettings[path] {
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return &ValidationError{Path: path, Value: val, Message: fmt.Sprintf("%s must be an integer: %v", name, err)}
			}
			v = n
		}
		setByPath(overrides, path, v)
	}
	if len(overrides) == 0 {
		return nil
	}

	// Round trip through TOML so overrides decode exactly like the file.
	data, err := toml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode environment overrides: %w", err)
	}
	return decode("environment", bytes.NewReader(data), cfg)
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
