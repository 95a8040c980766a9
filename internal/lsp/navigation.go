package lsp

import (
	"context"
	"encoding/json"
)

// References returns every reference to the symbol at pos in path,
// declarations included, in the order the server produced them. path
// is absolute or relative to the workspace root. No results is an empty
// slice, not an error.
func (s *Server) References(ctx context.Context, path string, pos Position) ([]ResolvedLocation, error) {
	var raw json.RawMessage
	err := s.withDocument(ctx, path, func(uri DocumentURI) error {
		params := ReferenceParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Position:     pos,
			},
			Context: ReferenceContext{IncludeDeclaration: true},
		}
		return s.Call(ctx, "textDocument/references", params, &raw)
	})
	if err != nil {
		return nil, err
	}
	return s.resolve(raw)
}

// Definition returns the definition location(s) of the symbol at pos in
// path. LocationLink results are reported at their target selection range.
func (s *Server) Definition(ctx context.Context, path string, pos Position) ([]ResolvedLocation, error) {
	var raw json.RawMessage
	err := s.withDocument(ctx, path, func(uri DocumentURI) error {
		params := TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		}
		return s.Call(ctx, "textDocument/definition", params, &raw)
	})
	if err != nil {
		return nil, err
	}
	return s.resolve(raw)
}

func (s *Server) resolve(raw json.RawMessage) ([]ResolvedLocation, error) {
	locs, err := ParseLocationResult(raw)
	if err != nil {
		return nil, &ServerError{LanguageID: s.desc.LanguageID, State: s.State(), Err: err}
	}
	return Resolve(s.root, locs), nil
}
