package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Errors reported by the process package.
var (
	// ErrEmptyCommand is returned when a Spec has no command tokens.
	ErrEmptyCommand = errors.New("process: empty command")
	// ErrExited is returned when signalling a process that is gone.
	ErrExited = errors.New("process: already exited")
	// ErrClosed is returned by Launch after Shutdown.
	ErrClosed = errors.New("process: supervisor shut down")
)

// Process is a child started by a Supervisor with its standard streams
// piped back to the parent.
type Process struct {
	// ID is unique among the processes of one supervisor.
	ID string
	// Name labels the process in logs.
	Name string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// code and signaled are written once, before exited is closed.
	exited   chan struct{}
	code     int
	signaled bool
}

// pipe wires all three standard streams of cmd. On error the streams
// already created are closed.
func pipe(id, name string, cmd *exec.Cmd) (*Process, error) {
	p := &Process{ID: id, Name: name, cmd: cmd, exited: make(chan struct{}), code: -1}

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		p.Close()
		return nil, fmt.Errorf("stdout: %w", err)
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		p.Close()
		return nil, fmt.Errorf("stderr: %w", err)
	}
	return p, nil
}

// start runs the command and reaps it in the background. exec closes
// the parent's pipe ends when Start fails.
func (p *Process) start() error {
	if err := p.cmd.Start(); err != nil {
		return err
	}
	go p.reap()
	return nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.code, p.signaled = exitStatus(err)
	close(p.exited)
}

func exitStatus(err error) (code int, signaled bool) {
	if err == nil {
		return 0, false
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return -1, false
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ee.ExitCode(), true
	}
	return ee.ExitCode(), false
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while the process runs or
// when it was ended by a signal.
func (p *Process) ExitCode() int {
	if !p.Exited() {
		return -1
	}
	return p.code
}

// Signaled reports whether the process was ended by a signal.
func (p *Process) Signaled() bool {
	return p.Exited() && p.signaled
}

// Wait blocks until the process exits or timeout elapses and reports
// whether it exited.
func (p *Process) Wait(timeout time.Duration) bool {
	if p.Exited() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Process) signal(sig os.Signal) error {
	if p.Exited() {
		return ErrExited
	}
	return p.cmd.Process.Signal(sig)
}

// Terminate sends SIGTERM. On Windows this fails and callers Kill.
func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// Kill ends the process immediately.
func (p *Process) Kill() error {
	return p.signal(os.Kill)
}

// Stderr returns the read end of the process's standard error.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// ReadWriteCloser reads the process's stdout and writes its stdin.
// Closing it closes both.
func (p *Process) ReadWriteCloser() io.ReadWriteCloser {
	return stdio{p}
}

type stdio struct{ p *Process }

func (s stdio) Read(b []byte) (int, error)  { return s.p.stdout.Read(b) }
func (s stdio) Write(b []byte) (int, error) { return s.p.stdin.Write(b) }

func (s stdio) Close() error {
	return errors.Join(closeOpen(s.p.stdin), closeOpen(s.p.stdout))
}

// Close closes every pipe to the process without stopping it.
func (p *Process) Close() error {
	return errors.Join(closeOpen(p.stdin), closeOpen(p.stdout), closeOpen(p.stderr))
}

// closeOpen closes c, treating nil and already closed pipes as success.
func closeOpen(c io.Closer) error {
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
