package lsp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// DocumentURI represents a URI for a text document.
type DocumentURI string

// Position represents a position in a text document.
// Line and character are zero-based.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range represents a range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location represents a location inside a resource.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// LocationLink represents a link between a source and a target location.
type LocationLink struct {
	OriginSelectionRange *Range      `json:"originSelectionRange,omitempty"`
	TargetURI            DocumentURI `json:"targetUri"`
	TargetRange          Range       `json:"targetRange"`
	TargetSelectionRange Range       `json:"targetSelectionRange"`
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// TextDocumentItem is an item to transfer a text document from client to server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is a parameter literal for requests at a
// position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// ReferenceParams are parameters for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext contains additional information for reference requests.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// DidOpenTextDocumentParams are sent with textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams are sent with textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// --- Lifecycle ---

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities    `json:"capabilities"`
	ServerInfo   *InitializeServerInfo `json:"serverInfo,omitempty"`
}

// InitializeServerInfo contains information about the server.
type InitializeServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams are sent with the initialized notification.
type InitializedParams struct{}

// ServerCapabilities holds the subset of server capabilities this client
// reads. Everything else the server announces is kept in Raw.
type ServerCapabilities struct {
	TextDocumentSync   any `json:"textDocumentSync,omitempty"`
	DefinitionProvider any `json:"definitionProvider,omitempty"`
	ReferencesProvider any `json:"referencesProvider,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full capability object alongside the typed fields.
func (c *ServerCapabilities) UnmarshalJSON(data []byte) error {
	type plain ServerCapabilities
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ServerCapabilities(p)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// HasCapability checks if a capability value indicates support.
func HasCapability(cap any) bool {
	switch v := cap.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// --- Window ---

// MessageType is the severity of a window/logMessage or window/showMessage.
type MessageType int

// Message types defined by the protocol.
const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
	MessageTypeDebug   MessageType = 5
)

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageTypeError:
		return "error"
	case MessageTypeWarning:
		return "warning"
	case MessageTypeInfo:
		return "info"
	case MessageTypeLog:
		return "log"
	case MessageTypeDebug:
		return "debug"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// LogMessageParams are the parameters of window/logMessage.
type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// --- Results ---

// ResolvedLocation is a navigation result with its URI already mapped
// onto the local filesystem.
type ResolvedLocation struct {
	URI          DocumentURI `json:"uri"`
	AbsolutePath string      `json:"absolutePath"`
	// RelativePath is relative to the workspace root, slash separated.
	// It is empty when the location lies outside the root.
	RelativePath string `json:"relativePath"`
	Range        Range  `json:"range"`
}

// Resolve maps locations onto paths under root.
func Resolve(root string, locs []Location) []ResolvedLocation {
	out := make([]ResolvedLocation, 0, len(locs))
	for _, loc := range locs {
		abs := URIToFilePath(loc.URI)
		out = append(out, ResolvedLocation{
			URI:          loc.URI,
			AbsolutePath: abs,
			RelativePath: relativeTo(root, abs),
			Range:        loc.Range,
		})
	}
	return out
}

func relativeTo(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return ""
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// --- Utility Functions ---

// FilePathToURI converts a file path to a DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	path = filepath.ToSlash(path)

	// On Windows, add extra slash for drive letter
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}

	u := &url.URL{
		Scheme: "file",
		Path:   path,
	}

	return DocumentURI(u.String())
}

// URIToFilePath converts a DocumentURI to a file path.
func URIToFilePath(uri DocumentURI) string {
	if uri == "" {
		return ""
	}

	u, err := url.Parse(string(uri))
	if err != nil {
		return string(uri)
	}

	if u.Scheme != "file" {
		return string(uri)
	}

	path := u.Path

	// On Windows, remove leading slash before drive letter
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}

	return filepath.FromSlash(path)
}

// ParseLocationResult parses a definition or references response, which
// may be null, a single Location, an array of Location, or an array of
// LocationLink. Links are flattened to their target selection range.
func ParseLocationResult(data json.RawMessage) ([]Location, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var loc Location
		if err := json.Unmarshal(data, &loc); err != nil || loc.URI == "" {
			return nil, fmt.Errorf("%w: location: %s", ErrInvalidResponse, trimmed)
		}
		return []Location{loc}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: location list: %v", ErrInvalidResponse, err)
	}

	locs := make([]Location, 0, len(items))
	for _, item := range items {
		var probe struct {
			URI       DocumentURI `json:"uri"`
			TargetURI DocumentURI `json:"targetUri"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("%w: location item: %v", ErrInvalidResponse, err)
		}

		switch {
		case probe.URI != "":
			var loc Location
			if err := json.Unmarshal(item, &loc); err != nil {
				return nil, fmt.Errorf("%w: location item: %v", ErrInvalidResponse, err)
			}
			locs = append(locs, loc)
		case probe.TargetURI != "":
			var link LocationLink
			if err := json.Unmarshal(item, &link); err != nil {
				return nil, fmt.Errorf("%w: location link: %v", ErrInvalidResponse, err)
			}
			locs = append(locs, Location{URI: link.TargetURI, Range: link.TargetSelectionRange})
		default:
			return nil, fmt.Errorf("%w: location item without uri", ErrInvalidResponse)
		}
	}
	return locs, nil
}
