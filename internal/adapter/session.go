package adapter

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/lspadapter/internal/lsp"
)

// Session is a ready language server bound to one repository.
// Queries may be issued concurrently.
type Session struct {
	id      string
	adapter *Adapter
	server  *lsp.Server
	root    string
	log     logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Root returns the absolute repository root.
func (s *Session) Root() string { return s.root }

// State returns the server's lifecycle state.
func (s *Session) State() lsp.State { return s.server.State() }

// PID returns the server process id, or 0 once it is gone.
func (s *Session) PID() int { return s.server.PID() }

// Logs returns the server's recent window/logMessage events.
func (s *Session) Logs() []lsp.LogEvent { return s.server.Logs() }

// Server returns the underlying language server.
func (s *Session) Server() *lsp.Server { return s.server }

// References returns every reference to the symbol at the zero-based
// line and character of relPath, declarations included.
func (s *Session) References(ctx context.Context, relPath string, line, char int) ([]lsp.ResolvedLocation, error) {
	return s.server.References(ctx, relPath, lsp.Position{Line: line, Character: char})
}

// Definition returns the definition of the symbol at the zero-based line
// and character of relPath.
func (s *Session) Definition(ctx context.Context, relPath string, line, char int) ([]lsp.ResolvedLocation, error) {
	return s.server.Definition(ctx, relPath, lsp.Position{Line: line, Character: char})
}

// Close shuts the server down and releases the adapter for the next
// session. It returns the server's failure if it died during the session.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown(ctx)
		s.adapter.busy.Store(false)
		s.log.Info("session closed")
	})
	return s.closeErr
}

// shutdown never honors ctx cancellation: the process must be reaped.
func (s *Session) shutdown(ctx context.Context) error {
	return s.server.Shutdown(context.WithoutCancel(ctx))
}
