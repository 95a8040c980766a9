package lsp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// withDocument opens path on the server for the duration of fn. Open
// documents are reference counted so concurrent queries on one file
// send a single didOpen and a single didClose.
func (s *Server) withDocument(ctx context.Context, path string, fn func(uri DocumentURI) error) error {
	if st := s.State(); st != StateRunning {
		return &ServerError{LanguageID: s.desc.LanguageID, State: st, Err: ErrServerNotReady}
	}

	abs := s.absPath(path)
	uri := FilePathToURI(abs)

	if err := s.openDocument(ctx, uri, abs); err != nil {
		return err
	}
	defer s.closeDocument(context.WithoutCancel(ctx), uri)

	return fn(uri)
}

func (s *Server) absPath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *Server) openDocument(ctx context.Context, uri DocumentURI, abs string) error {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()

	if s.docs[uri] > 0 {
		s.docs[uri]++
		return nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: s.desc.LanguageID,
			Version:    0,
			Text:       string(content),
		},
	}
	if err := s.Notify(ctx, "textDocument/didOpen", params); err != nil {
		return err
	}
	s.docs[uri] = 1
	return nil
}

func (s *Server) closeDocument(ctx context.Context, uri DocumentURI) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()

	s.docs[uri]--
	if s.docs[uri] > 0 {
		return
	}
	delete(s.docs, uri)

	params := DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	if err := s.Notify(ctx, "textDocument/didClose", params); err != nil {
		s.log.WithError(err).WithField("uri", uri).Debug("didClose failed")
	}
}

// OpenDocuments returns the number of documents currently open on the server.
func (s *Server) OpenDocuments() int {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	return len(s.docs)
}
