// Package bootstrap installs a language server's runtime dependencies into
// an isolated per-adapter directory.
//
// Installation is idempotent: it runs only when the target directory does
// not exist yet. A directory left behind by a failed install is not
// repaired; remove it by hand to retry.
package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/lspadapter/internal/logging"
)

// Requirement is an executable that must already be on PATH.
type Requirement struct {
	Tool string
	Hint string
}

// Package describes what to install for one server and how to launch it.
type Package struct {
	Name         string
	Requirements []Requirement
	Manifest     *Manifest
	// Launch is the command returned once the package is installed.
	Launch []string
}

// Runner executes one manifest command in dir.
type Runner interface {
	Run(ctx context.Context, dir, command string) error
}

// ShellRunner runs commands through the platform shell with output
// suppressed. The child runs as the invoking user; nothing is elevated.
type ShellRunner struct {
	Platform Platform
}

// Run implements Runner. On failure the error carries the tail of stderr.
func (r ShellRunner) Run(ctx context.Context, dir, command string) error {
	sh := r.Platform.shell()
	cmd := exec.CommandContext(ctx, sh[0], append(sh[1:], command)...)
	cmd.Dir = dir
	cmd.Stdout = io.Discard

	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return &commandError{err: err, output: stderr.String()}
	}
	return nil
}

type commandError struct {
	err    error
	output string
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(bytes.TrimSpace(t.buf.Bytes()))
}

// Bootstrapper installs packages. The zero value is not usable; use New.
type Bootstrapper struct {
	platform Platform
	runner   Runner
	lookPath func(string) (string, error)
	log      logrus.FieldLogger

	group singleflight.Group
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithPlatform overrides the detected host platform.
func WithPlatform(p Platform) Option {
	return func(b *Bootstrapper) { b.platform = p }
}

// WithRunner replaces the shell runner.
func WithRunner(r Runner) Option {
	return func(b *Bootstrapper) { b.runner = r }
}

// WithLookPath replaces exec.LookPath for the tool preflight.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(b *Bootstrapper) { b.lookPath = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bootstrapper) { b.log = logging.WithComponent(l, "bootstrap") }
}

// New creates a Bootstrapper for the host platform.
func New(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		platform: HostPlatform(),
		lookPath: exec.LookPath,
		log:      logging.WithComponent(nil, "bootstrap"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = ShellRunner{Platform: b.platform}
	}
	return b
}

// Platform returns the platform the bootstrapper installs for.
func (b *Bootstrapper) Platform() Platform {
	return b.platform
}

// EnsureInstalled makes sure pkg is installed in dir and returns its launch
// command.
//
// The platform and the required tools are checked first; failures there
// are *ConfigError and happen before any filesystem change. If dir exists
// nothing is run. Otherwise dir is created and every manifest step for the
// platform runs in order; the first failing step aborts with *InstallError.
// Concurrent calls for the same dir share one installation.
func (b *Bootstrapper) EnsureInstalled(ctx context.Context, dir string, pkg Package) ([]string, error) {
	if !b.platform.Supported() {
		return nil, &ConfigError{
			What: b.platform.String(),
			Hint: fmt.Sprintf("%s is not available on this platform", pkg.Name),
			Err:  ErrUnsupportedPlatform,
		}
	}

	for _, req := range pkg.Requirements {
		if _, err := b.lookPath(req.Tool); err != nil {
			return nil, &ConfigError{What: req.Tool, Hint: req.Hint, Err: ErrMissingTool}
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve install dir: %w", err)
	}

	_, err, _ = b.group.Do(abs, func() (any, error) {
		return nil, b.install(ctx, abs, pkg)
	})
	if err != nil {
		return nil, err
	}

	return append([]string(nil), pkg.Launch...), nil
}

func (b *Bootstrapper) install(ctx context.Context, dir string, pkg Package) error {
	log := b.log.WithFields(logrus.Fields{"package": pkg.Name, "dir": dir})

	if _, err := os.Stat(dir); err == nil {
		log.Debug("already installed")
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat install dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	steps := pkg.Manifest.For(b.platform)
	log.WithField("steps", len(steps)).Info("installing runtime dependencies")

	for _, dep := range steps {
		log.WithField("step", dep.label()).Debug("running install step")

		if err := b.runner.Run(ctx, dir, dep.Command); err != nil {
			ierr := &InstallError{Dir: dir, Dependency: dep, Err: err}
			var cerr *commandError
			if errors.As(err, &cerr) {
				ierr.Output = cerr.output
			}
			return ierr
		}
	}

	log.Info("runtime dependencies installed")
	return nil
}
