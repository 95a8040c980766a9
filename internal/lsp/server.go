package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/lspadapter/internal/logging"
	"github.com/dshills/lspadapter/internal/process"
)

// State is the lifecycle state of a Server.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateInitializing
	StateInitialized
	StateRunning
	StateShuttingDown
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ServerDescriptor says how to launch a language server.
type ServerDescriptor struct {
	// LanguageID is sent in textDocument/didOpen and names the server in logs.
	LanguageID string
	// Command is the executable followed by its arguments.
	Command []string
	// WorkDir is the working directory of the server process.
	WorkDir string
	// Env holds variables added on top of the current environment.
	Env map[string]string
	// FilePatterns are doublestar globs of the files the server handles.
	FilePatterns []string
}

// Validate checks that the descriptor can be launched.
func (d ServerDescriptor) Validate() error {
	if d.LanguageID == "" {
		return errors.New("server descriptor: language id is required")
	}
	if len(d.Command) == 0 || d.Command[0] == "" {
		return fmt.Errorf("server descriptor %s: %w", d.LanguageID, process.ErrEmptyCommand)
	}
	return nil
}

// Timeouts bound each blocking phase of the server lifecycle.
// A zero value disables the bound.
type Timeouts struct {
	Initialize time.Duration
	Ready      time.Duration
	Request    time.Duration
	Shutdown   time.Duration
	KillGrace  time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Initialize: 60 * time.Second,
		Ready:      5 * time.Minute,
		Request:    30 * time.Second,
		Shutdown:   5 * time.Second,
		KillGrace:  2 * time.Second,
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTimeouts sets the lifecycle timeouts.
func WithTimeouts(t Timeouts) ServerOption {
	return func(s *Server) {
		s.timeouts = t
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.baseLog = l
	}
}

// WithSupervisor launches the server process under sup instead of a
// private supervisor.
func WithSupervisor(sup *process.Supervisor) ServerOption {
	return func(s *Server) {
		s.supervisor = sup
	}
}

// WithReadiness sets the matcher that decides, from window/logMessage,
// when the server has finished its startup work. Without a matcher the
// server counts as ready as soon as it is running.
func WithReadiness(m Matcher) ServerOption {
	return func(s *Server) {
		s.matcher = m
	}
}

// WithStateHook registers fn to be called after every state change.
func WithStateHook(fn func(from, to State)) ServerOption {
	return func(s *Server) {
		s.onState = fn
	}
}

// WithMessageTrace logs every JSON-RPC message at trace level.
func WithMessageTrace(enable bool) ServerOption {
	return func(s *Server) {
		s.trace = enable
	}
}

// Server drives one language server process through its lifecycle:
// launch, initialize handshake, readiness, queries and shutdown.
//
// Handlers for server-initiated messages are added to Registry before
// Start. A Server is used once; it cannot be restarted after Shutdown.
type Server struct {
	desc       ServerDescriptor
	timeouts   Timeouts
	baseLog    logrus.FieldLogger
	log        logrus.FieldLogger
	supervisor *process.Supervisor
	registry   *HandlerRegistry
	detector   *Detector
	matcher    Matcher
	onState    func(from, to State)
	trace      bool

	// mu serializes Start and Shutdown.
	mu sync.Mutex

	stateMu sync.Mutex
	state   State
	err     error
	failed  chan struct{}

	// Set by Start before the state reaches Running.
	root         string
	proc         *process.Process
	transport    *Transport
	capabilities ServerCapabilities
	serverInfo   *InitializeServerInfo

	releaseOnce sync.Once

	docsMu sync.Mutex
	docs   map[DocumentURI]int
}

// NewServer creates a server for desc. The process is not launched
// until Start.
func NewServer(desc ServerDescriptor, opts ...ServerOption) *Server {
	s := &Server{
		desc:     desc,
		timeouts: DefaultTimeouts(),
		registry: NewHandlerRegistry(),
		failed:   make(chan struct{}),
		docs:     make(map[DocumentURI]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = logging.WithComponent(s.baseLog, "lsp").WithField("language", desc.LanguageID)
	if s.supervisor == nil {
		s.supervisor = process.NewSupervisor(process.WithLogger(s.baseLog))
	}
	s.detector = NewDetector(s.matcher, s.log)
	return s
}

// Registry returns the handler registry for server-initiated messages.
// It is frozen once Start begins. The readiness detector is added at
// Start and runs ahead of any window/logMessage handler set here.
func (s *Server) Registry() *HandlerRegistry {
	return s.registry
}

// Start launches the server process and performs the initialize
// handshake with params. root is the absolute workspace root used to
// resolve relative paths in queries and results.
//
// On success the server is Running. On failure it is Failed, the
// process is gone and the returned error is a *ServerError.
func (s *Server) Start(ctx context.Context, root string, params any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !filepath.IsAbs(root) {
		return fmt.Errorf("%w: %q", ErrRelativeRoot, root)
	}
	if err := s.desc.Validate(); err != nil {
		return err
	}
	if !s.transition(StateUnstarted, StateStarting) {
		return ErrAlreadyStarted
	}
	s.root = filepath.Clean(root)
	s.detector.Register(s.registry)

	proc, err := s.supervisor.Launch(s.desc.LanguageID, process.Spec{
		Command: s.desc.Command,
		Dir:     s.desc.WorkDir,
		Env:     s.desc.Env,
		OnExit:  s.exited,
	})
	if err != nil {
		return s.fail(fmt.Errorf("launch: %w", err))
	}
	s.proc = proc
	s.log.WithFields(logrus.Fields{
		"pid":     proc.PID(),
		"process": proc.ID,
		"command": s.desc.Command,
		"dir":     s.desc.WorkDir,
	}).Info("language server started")

	go s.drainStderr(proc.Stderr())

	s.transport = NewTransport(proc.ReadWriteCloser(), s.registry,
		WithTransportLogger(s.log), WithTrace(s.trace))
	if !s.transition(StateStarting, StateInitializing) {
		s.release(false)
		return s.Err()
	}
	go s.watch(proc, s.transport)

	if err := s.initialize(ctx, params); err != nil {
		err = s.fail(err)
		s.release(false)
		return err
	}

	if !s.transition(StateInitialized, StateRunning) {
		s.release(false)
		return s.Err()
	}
	if s.matcher == nil {
		s.detector.Latch().Set()
	}
	return nil
}

func (s *Server) initialize(ctx context.Context, params any) error {
	initCtx, cancel := withOptionalTimeout(ctx, s.timeouts.Initialize)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(initCtx, "initialize", params, &result); err != nil {
		return s.classify(initCtx, "initialize", err)
	}
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo

	if !s.transition(StateInitializing, StateInitialized) {
		return s.Err()
	}

	if err := s.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return s.classify(ctx, "initialized", err)
	}
	return nil
}

// WaitReady blocks until the readiness matcher fires. It fails when
// the server dies, the ready timeout elapses (the server is then
// Failed), or ctx is done.
func (s *Server) WaitReady(ctx context.Context) error {
	switch st := s.State(); st {
	case StateRunning:
	case StateFailed:
		return s.Err()
	default:
		return &ServerError{LanguageID: s.desc.LanguageID, State: st, Err: ErrServerNotReady}
	}

	var timeout <-chan time.Time
	if s.timeouts.Ready > 0 {
		timer := time.NewTimer(s.timeouts.Ready)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.detector.Latch().Done():
		return nil
	case <-s.failed:
		return s.Err()
	case <-timeout:
		return s.fail(fmt.Errorf("waiting for readiness after %s: %w", s.timeouts.Ready, ErrTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the server: shutdown request, exit notification, then
// a bounded wait for the process before it is killed. Shutdown returns
// only after the process is gone. Protocol errors on the way down are
// logged. A Failed server is cleaned up and its failure returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.Lock()
	prev := s.state
	switch prev {
	case StateStopped:
		s.stateMu.Unlock()
		return nil
	case StateFailed:
		s.stateMu.Unlock()
		s.release(false)
		return s.Err()
	case StateUnstarted:
		s.state = StateStopped
		s.stateMu.Unlock()
		s.stateChanged(prev, StateStopped)
		return nil
	}
	s.state = StateShuttingDown
	s.stateMu.Unlock()
	s.stateChanged(prev, StateShuttingDown)

	graceful := false
	if prev == StateInitialized || prev == StateRunning {
		graceful = s.requestExit(ctx)
	}
	s.release(graceful)

	s.transition(StateShuttingDown, StateStopped)
	s.log.Info("language server stopped")
	return nil
}

func (s *Server) requestExit(ctx context.Context) bool {
	sctx, cancel := withOptionalTimeout(ctx, s.timeouts.Shutdown)
	defer cancel()

	if err := s.transport.Call(sctx, "shutdown", nil, nil); err != nil {
		s.log.WithError(err).Warn("shutdown request failed")
		return false
	}
	if err := s.transport.Notify(sctx, "exit", nil); err != nil {
		s.log.WithError(err).Warn("exit notification failed")
		return false
	}
	return true
}

// release tears down the transport and the process exactly once. When
// graceful, the process is first given KillGrace to exit on its own.
func (s *Server) release(graceful bool) {
	s.releaseOnce.Do(func() {
		proc := s.proc
		exited := proc != nil && graceful && proc.Wait(s.timeouts.KillGrace)

		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.log.WithError(err).Debug("closing transport")
			}
		}

		if proc == nil {
			return
		}
		if !exited {
			if forced := s.supervisor.Stop(proc, s.timeouts.KillGrace); forced {
				s.log.WithField("pid", proc.PID()).Warn("language server killed after grace period")
			}
		}
		if err := proc.Close(); err != nil {
			s.log.WithError(err).Debug("closing process pipes")
		}
	})
}

// exited runs when the server process is reaped. Outside of an orderly
// shutdown that is a crash.
func (s *Server) exited(proc *process.Process) {
	s.fail(crashed(proc))
}

// watch fails the server when the connection drops while the process
// stays alive. A process that exits is reported by exited.
func (s *Server) watch(proc *process.Process, t *Transport) {
	select {
	case <-proc.Done():
		return
	case <-t.Done():
	}
	if !proc.Wait(s.timeouts.KillGrace) {
		s.fail(ErrConnectionClosed)
	}
}

func crashed(proc *process.Process) error {
	if proc.Signaled() {
		return fmt.Errorf("%w: killed by signal", ErrServerCrashed)
	}
	return fmt.Errorf("%w: exit code %d", ErrServerCrashed, proc.ExitCode())
}

// classify turns a transport error from op into the error reported to
// callers, preferring a crash over the connection loss it caused.
func (s *Server) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	case errors.Is(err, ErrConnectionClosed) && s.proc != nil && s.proc.Wait(s.timeouts.KillGrace):
		return fmt.Errorf("%s: %w", op, crashed(s.proc))
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Server) drainStderr(r io.Reader) {
	if r == nil {
		return
	}
	log := s.log.WithField("stream", "stderr")
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		log.Debug(sc.Text())
	}
}

// --- State ---

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Err returns the failure that moved the server to Failed, or nil.
func (s *Server) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.err
}

// Failed is closed when the server enters the Failed state.
func (s *Server) Failed() <-chan struct{} {
	return s.failed
}

func (s *Server) transition(from, to State) bool {
	s.stateMu.Lock()
	if s.state != from {
		s.stateMu.Unlock()
		return false
	}
	s.state = to
	s.stateMu.Unlock()
	s.stateChanged(from, to)
	return true
}

// fail moves any live state to Failed and returns the recorded failure.
// Failures during shutdown or after a terminal state are not recorded.
func (s *Server) fail(err error) error {
	s.stateMu.Lock()
	prev := s.state
	if prev.Terminal() || prev == StateShuttingDown {
		recorded := s.err
		s.stateMu.Unlock()
		if recorded != nil {
			return recorded
		}
		return &ServerError{LanguageID: s.desc.LanguageID, State: prev, Err: err}
	}
	serr := &ServerError{LanguageID: s.desc.LanguageID, State: prev, Err: err}
	s.state = StateFailed
	s.err = serr
	close(s.failed)
	s.stateMu.Unlock()

	s.log.WithError(err).WithField("state", prev.String()).Error("language server failed")
	s.stateChanged(prev, StateFailed)
	return serr
}

func (s *Server) stateChanged(from, to State) {
	s.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("state change")
	if s.onState != nil {
		s.onState(from, to)
	}
}

// --- Accessors ---

// LanguageID returns the language this server handles.
func (s *Server) LanguageID() string {
	return s.desc.LanguageID
}

// Root returns the workspace root passed to Start.
func (s *Server) Root() string {
	return s.root
}

// PID returns the server process id, or 0 before launch.
func (s *Server) PID() int {
	if s.State() < StateInitializing || s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Capabilities returns the capabilities from the initialize result.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// ServerInfo returns the serverInfo from the initialize result, if any.
func (s *Server) ServerInfo() *InitializeServerInfo {
	return s.serverInfo
}

// Ready is closed once the readiness matcher fires.
func (s *Server) Ready() <-chan struct{} {
	return s.detector.Latch().Done()
}

// Logs returns recent window/logMessage events, oldest first.
func (s *Server) Logs() []LogEvent {
	return s.detector.History()
}

// Call sends a request to a running server, bounded by the request
// timeout.
func (s *Server) Call(ctx context.Context, method string, params any, result any) error {
	if st := s.State(); st != StateRunning {
		return &ServerError{LanguageID: s.desc.LanguageID, State: st, Err: ErrServerNotReady}
	}

	ctx, cancel := withOptionalTimeout(ctx, s.timeouts.Request)
	defer cancel()

	if err := s.transport.Call(ctx, method, params, result); err != nil {
		return &ServerError{LanguageID: s.desc.LanguageID, State: s.State(), Err: s.classify(ctx, method, err)}
	}
	return nil
}

// Notify sends a notification to a running server.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	if st := s.State(); st != StateRunning {
		return &ServerError{LanguageID: s.desc.LanguageID, State: st, Err: ErrServerNotReady}
	}
	if err := s.transport.Notify(ctx, method, params); err != nil {
		return &ServerError{LanguageID: s.desc.LanguageID, State: s.State(), Err: fmt.Errorf("%s: %w", method, err)}
	}
	return nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
