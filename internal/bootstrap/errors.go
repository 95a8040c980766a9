package bootstrap

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform indicates the host is not on the allow-list.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrMissingTool indicates a required executable is not on PATH.
	ErrMissingTool = errors.New("required tool not found")

	// ErrInvalidManifest indicates the dependency manifest is malformed.
	ErrInvalidManifest = errors.New("invalid dependency manifest")
)

// ConfigError is a fatal, user-facing configuration problem detected before
// anything is installed or launched. It is never retried.
type ConfigError struct {
	// What names the offending item (a platform, a tool, a manifest path).
	What string
	// Hint tells the user how to fix it.
	Hint string
	Err  error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%v: %s: %s", e.Err, e.What, e.Hint)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.What)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InstallError reports a dependency command that exited non-zero. The
// installation directory is left as-is for inspection.
type InstallError struct {
	Dir        string
	Dependency Dependency
	// Output is the tail of the command's stderr.
	Output string
	Err    error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	msg := fmt.Sprintf("install %q in %s: %v", e.Dependency.label(), e.Dir, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *InstallError) Unwrap() error {
	return e.Err
}
