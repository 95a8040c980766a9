package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/lspadapter/internal/logging"
)

// Spec describes how to launch a server process.
type Spec struct {
	// Command is the executable followed by its arguments.
	Command []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds variables added on top of the current environment.
	Env map[string]string
	// OnExit, if set, runs once the process has exited, whatever the
	// cause. It runs on a supervisor goroutine.
	OnExit func(p *Process)
}

func (sp Spec) command() *exec.Cmd {
	cmd := exec.Command(sp.Command[0], sp.Command[1:]...)
	cmd.Dir = sp.Dir
	if len(sp.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range sp.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return cmd
}

// Supervisor owns the server processes it launches and reaps each one
// when it exits. It is safe for concurrent use.
type Supervisor struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	procs  map[string]*Process
	closed bool

	// reapers counts the goroutines still waiting on a process.
	reapers sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l logrus.FieldLogger) SupervisorOption {
	return func(s *Supervisor) {
		s.log = l
	}
}

// NewSupervisor creates a supervisor with no processes.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{procs: make(map[string]*Process)}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.WithComponent(s.log, "process")
	return s
}

// Launch starts the process described by spec with piped stdio. A
// process that fails to start is never tracked.
func (s *Supervisor) Launch(name string, spec Spec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	p, err := pipe(uuid.NewString(), name, spec.command())
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", name, err)
	}
	if err := p.start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("launch %s: %w", name, err)
	}

	s.procs[p.ID] = p
	s.reapers.Add(1)
	go s.reap(p, spec.OnExit)

	s.log.WithFields(logrus.Fields{
		"process": p.ID,
		"name":    name,
		"pid":     p.PID(),
		"dir":     spec.Dir,
	}).Debug("process started")
	return p, nil
}

func (s *Supervisor) reap(p *Process, onExit func(*Process)) {
	defer s.reapers.Done()
	<-p.Done()

	s.mu.Lock()
	delete(s.procs, p.ID)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"process":   p.ID,
		"name":      p.Name,
		"exit_code": p.ExitCode(),
		"signaled":  p.Signaled(),
	}).Debug("process exited")

	if onExit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("exit handler panicked")
		}
	}()
	onExit(p)
}

// Stop ends p. It sends SIGTERM, gives p grace to exit and then kills
// it, returning once p is gone. forced reports whether the kill was
// needed; a forced kill is not an error.
func (s *Supervisor) Stop(p *Process, grace time.Duration) (forced bool) {
	if p == nil || p.Exited() {
		return false
	}
	if p.Terminate() == nil && p.Wait(grace) {
		return false
	}

	if p.Kill() == nil {
		forced = true
		s.log.WithFields(logrus.Fields{
			"process": p.ID,
			"name":    p.Name,
			"pid":     p.PID(),
			"grace":   grace,
		}).Warn("process ignored SIGTERM; killed")
	}
	<-p.Done()
	return forced
}

// Count returns how many launched processes have not been reaped yet.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Shutdown stops every remaining process, each with grace to exit, and
// returns once all of them are reaped and their exit handlers have run.
// Launch fails with ErrClosed afterwards.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	live := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		live = append(live, p)
	}
	s.mu.Unlock()

	if len(live) > 0 {
		s.log.WithField("count", len(live)).Info("stopping server processes")
	}

	var wg sync.WaitGroup
	for _, p := range live {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop(p, grace)
		}()
	}
	wg.Wait()
	s.reapers.Wait()
}
