// Package config loads lspadapter settings.
//
// Settings come from three layers, each overriding the one before:
//
//  1. built-in defaults (Default)
//  2. a TOML file, which only needs to name the values it changes
//  3. LSPADAPTER_* environment variables (EnvNames lists them)
//
// A missing file is not an error. Unknown keys are.
//
//	log_level = "debug"
//	install_root = "/var/cache/lspadapter"
//
//	[timeouts]
//	initialize = "60s"
//	ready = "5m"
//
//	[query]
//	empty_retry_attempts = 1
package config
