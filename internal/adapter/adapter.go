package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/lspadapter/internal/bootstrap"
	"github.com/dshills/lspadapter/internal/config"
	"github.com/dshills/lspadapter/internal/logging"
	"github.com/dshills/lspadapter/internal/lsp"
	"github.com/dshills/lspadapter/internal/process"
)

// Errors returned by the adapter facade.
var (
	// ErrBusy is returned when a session is already open on the adapter.
	ErrBusy = errors.New("adapter: a session is already open")
	// ErrNoAdapter is returned when no registered adapter handles a file.
	ErrNoAdapter = errors.New("adapter: no adapter for file")
	// ErrUnknownAdapter is returned for a name that is not registered.
	ErrUnknownAdapter = errors.New("adapter: unknown adapter")
)

// Adapter runs one language server for one repository at a time.
type Adapter struct {
	def  Definition
	cfg  config.Config
	log  logrus.FieldLogger
	boot *bootstrap.Bootstrapper
	sup  *process.Supervisor

	trace bool
	hook  func(from, to lsp.State)
	pid   int

	busy atomic.Bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithBootstrapper replaces the default bootstrapper.
func WithBootstrapper(b *bootstrap.Bootstrapper) Option {
	return func(a *Adapter) { a.boot = b }
}

// WithSupervisor sets the process supervisor shared by all sessions.
func WithSupervisor(sup *process.Supervisor) Option {
	return func(a *Adapter) { a.sup = sup }
}

// WithMessageTrace logs every JSON-RPC message at trace level.
func WithMessageTrace(enable bool) Option {
	return func(a *Adapter) { a.trace = enable }
}

// WithStateHook observes the state transitions of every session's server.
func WithStateHook(fn func(from, to lsp.State)) Option {
	return func(a *Adapter) { a.hook = fn }
}

// WithClientPID overrides the process id announced in initialize.
func WithClientPID(pid int) Option {
	return func(a *Adapter) { a.pid = pid }
}

// New creates an adapter for def configured by cfg.
func New(def Definition, cfg config.Config, opts ...Option) (*Adapter, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{def: def, cfg: cfg, pid: os.Getpid()}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logging.WithComponent(a.log, "adapter").WithField("adapter", def.Name)

	if a.boot == nil {
		bopts := []bootstrap.Option{bootstrap.WithLogger(a.log)}
		if cfg.Platform != "" {
			p, err := bootstrap.ParsePlatform(cfg.Platform)
			if err != nil {
				return nil, fmt.Errorf("platform: %w", err)
			}
			bopts = append(bopts, bootstrap.WithPlatform(p))
		}
		a.boot = bootstrap.New(bopts...)
	}
	if a.sup == nil {
		a.sup = process.NewSupervisor(process.WithLogger(a.log))
	}
	return a, nil
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.def.Name
}

// Definition returns the adapter's language definition.
func (a *Adapter) Definition() Definition {
	return a.def
}

// InstallDir returns where the adapter's runtime dependencies live.
func (a *Adapter) InstallDir() string {
	return a.cfg.InstallDir(a.def.installName())
}

// Bootstrap installs the runtime dependencies if needed and returns the
// launch command. It does nothing when the install directory exists.
func (a *Adapter) Bootstrap(ctx context.Context) ([]string, error) {
	return a.boot.EnsureInstalled(ctx, a.InstallDir(), a.def.Package())
}

// Open starts a server for the repository at repoRoot and waits until it
// is ready. The caller must Close the session. Only one session may be
// open at a time; a second Open returns ErrBusy.
func (a *Adapter) Open(ctx context.Context, repoRoot string) (*Session, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	sess, err := a.open(ctx, repoRoot)
	if err != nil {
		a.busy.Store(false)
		return nil, err
	}
	return sess, nil
}

func (a *Adapter) open(ctx context.Context, repoRoot string) (*Session, error) {
	root, err := repositoryRoot(repoRoot)
	if err != nil {
		return nil, err
	}

	launch, err := a.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}

	params, err := a.def.Template.Build(root, a.pid)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := a.log.WithFields(logrus.Fields{"session": id, "root": root})

	desc := a.def.Descriptor(a.InstallDir())
	desc.Command = launch

	t := a.cfg.Timeouts
	srv := lsp.NewServer(desc,
		lsp.WithTimeouts(lsp.Timeouts{
			Initialize: t.Initialize.Std(),
			Ready:      t.Ready.Std(),
			Request:    t.Request.Std(),
			Shutdown:   t.Shutdown.Std(),
			KillGrace:  t.KillGrace.Std(),
		}),
		lsp.WithLogger(log),
		lsp.WithSupervisor(a.sup),
		lsp.WithReadiness(a.def.Matcher),
		lsp.WithMessageTrace(a.trace),
		lsp.WithStateHook(a.hook),
	)
	if a.def.Intercept != nil {
		a.def.Intercept(srv.Registry())
	}

	sess := &Session{id: id, adapter: a, server: srv, root: root, log: log}

	if err := srv.Start(ctx, root, params); err != nil {
		sess.shutdown(ctx)
		return nil, err
	}
	if err := srv.WaitReady(ctx); err != nil {
		sess.shutdown(ctx)
		return nil, err
	}

	log.WithField("pid", srv.PID()).Info("session ready")
	return sess, nil
}

// Run opens a session, calls fn with it and closes the session on every
// exit path, including a panic in fn, which is re-raised after cleanup.
// The result is fn's error joined with any error from closing.
func (a *Adapter) Run(ctx context.Context, repoRoot string, fn func(ctx context.Context, s *Session) error) (err error) {
	sess, err := a.Open(ctx, repoRoot)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			sess.Close(ctx)
			panic(r)
		}
		if cerr := sess.Close(ctx); cerr != nil && !errors.Is(err, cerr) {
			err = errors.Join(err, cerr)
		}
	}()

	return fn(ctx, sess)
}

// Close stops every server process the adapter still owns.
func (a *Adapter) Close() {
	a.sup.Shutdown(a.cfg.Timeouts.KillGrace.Std())
}

func repositoryRoot(path string) (string, error) {
	if path == "" {
		return "", errors.New("repository path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve repository path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository %s is not a directory", abs)
	}
	return abs, nil
}
