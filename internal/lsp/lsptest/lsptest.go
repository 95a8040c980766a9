// Package lsptest runs a scripted fake language server for tests.
//
// The fake server is the test binary itself. A test package wires it in
// from TestMain:
//
//	func TestMain(m *testing.M) {
//	    lsptest.MaybeServe()
//	    os.Exit(m.Run())
//	}
//
// and then launches Descriptor(scenario) like any other server.
package lsptest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/dshills/lspadapter/internal/lsp"
)

// Environment variables that switch the test binary into server mode.
const (
	EnvHelper   = "LSPTEST_FAKE_SERVER"
	EnvScenario = "LSPTEST_SCENARIO"
)

// ReadyMarker is the text of the log message sent once indexing is done.
const ReadyMarker = "Finished indexing"

// Scenario selects the fake server's behavior.
type Scenario string

const (
	// Normal answers the handshake, logs progress, asks the client to run
	// a command, reports ReadyMarker and answers queries.
	Normal Scenario = "normal"
	// NeverReady behaves like Normal but never sends ReadyMarker.
	NeverReady Scenario = "never-ready"
	// InitError answers initialize with an error.
	InitError Scenario = "init-error"
	// CrashOnInit exits with code 3 when initialize arrives.
	CrashOnInit Scenario = "crash-on-init"
	// CrashAfterReady exits with code 4 shortly after reporting ready.
	CrashAfterReady Scenario = "crash-after-ready"
	// SlowInit waits two seconds before answering initialize.
	SlowInit Scenario = "slow-init"
	// IgnoreExit answers shutdown but ignores exit and SIGTERM.
	IgnoreExit Scenario = "ignore-exit"
)

// Fixed results of the fake server's queries, relative to the workspace root.
const (
	ReferencePath  = "lib/caller.rb"
	DefinitionPath = "lib/definition.rb"
	// EmptyLine is the query line for which every query returns null.
	EmptyLine = 99
)

// DefinitionRange is the target selection range of every definition.
var DefinitionRange = lsp.Range{
	Start: lsp.Position{Line: 5, Character: 6},
	End:   lsp.Position{Line: 5, Character: 17},
}

// Descriptor returns a descriptor that launches the current test binary
// as the fake server.
func Descriptor(sc Scenario) lsp.ServerDescriptor {
	return lsp.ServerDescriptor{
		LanguageID: "fake",
		Command:    []string{os.Args[0], "-test.run=^$"},
		Env:        Env(sc),
	}
}

// Env returns the environment that selects scenario sc.
func Env(sc Scenario) map[string]string {
	return map[string]string{EnvHelper: "1", EnvScenario: string(sc)}
}

// MaybeServe serves on stdin/stdout and exits if the process was
// launched as the fake server. Otherwise it returns immediately.
func MaybeServe() {
	if os.Getenv(EnvHelper) != "1" {
		return
	}
	sc := Scenario(os.Getenv(EnvScenario))
	if sc == IgnoreExit {
		signal.Ignore(syscall.SIGTERM)
	}
	os.Exit(Serve(stdio{}, sc))
}

type stdio struct{}

func (stdio) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdio) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdio) Close() error                { return os.Stdin.Close() }

type fake struct {
	sc   Scenario
	conn *jsonrpc2.Conn

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	rootURI     string
	processID   int
	open        map[string]bool

	exit chan int
	stop chan struct{}
}

// Serve runs the fake server over rwc and returns the process exit code.
func Serve(rwc io.ReadWriteCloser, sc Scenario) int {
	f := &fake{
		sc:   sc,
		open: make(map[string]bool),
		exit: make(chan int, 1),
		stop: make(chan struct{}),
	}
	defer close(f.stop)

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	f.conn = jsonrpc2.NewConn(context.Background(), stream,
		jsonrpc2.HandlerWithError(f.handle),
		jsonrpc2.SetLogger(log.New(io.Discard, "", 0)))

	select {
	case code := <-f.exit:
		_ = f.conn.Close()
		return code
	case <-f.conn.DisconnectNotify():
		if f.sc == IgnoreExit {
			// Linger until killed.
			time.Sleep(time.Hour)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.shutdown {
			return 0
		}
		return 1
	}
}

func (f *fake) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "initialize":
		return f.initialize(req)
	case "initialized":
		f.mu.Lock()
		ok := f.initialized
		f.mu.Unlock()
		if !ok {
			f.log(lsp.MessageTypeError, "ordering violation: initialized before initialize reply")
		}
		go f.startup()
		return nil, nil
	case "textDocument/didOpen":
		var p lsp.DidOpenTextDocumentParams
		if err := unmarshal(req, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.open[string(p.TextDocument.URI)] = true
		f.mu.Unlock()
		return nil, nil
	case "textDocument/didClose":
		var p lsp.DidCloseTextDocumentParams
		if err := unmarshal(req, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		delete(f.open, string(p.TextDocument.URI))
		f.mu.Unlock()
		return nil, nil
	case "textDocument/references":
		return f.references(req)
	case "textDocument/definition":
		return f.definition(req)
	case "shutdown":
		f.mu.Lock()
		f.shutdown = true
		f.mu.Unlock()
		return nil, nil
	case "exit":
		if f.sc != IgnoreExit {
			f.exit <- 0
		}
		return nil, nil
	}
	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method " + req.Method}
}

func (f *fake) initialize(req *jsonrpc2.Request) (any, error) {
	switch f.sc {
	case InitError:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: "initialize refused"}
	case CrashOnInit:
		f.exit <- 3
		<-f.stop
		return nil, nil
	case SlowInit:
		time.Sleep(2 * time.Second)
	}

	var p struct {
		ProcessID int    `json:"processId"`
		RootURI   string `json:"rootUri"`
	}
	if err := unmarshal(req, &p); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.initialized = true
	f.rootURI = p.RootURI
	f.processID = p.ProcessID
	f.mu.Unlock()

	return map[string]any{
		"capabilities": map[string]any{
			"textDocumentSync":   1,
			"definitionProvider": true,
			"referencesProvider": true,
		},
		"serverInfo": map[string]any{"name": "lsptest", "version": "1.0.0"},
	}, nil
}

// startup runs off the read loop so it can wait for client replies.
func (f *fake) startup() {
	ctx := context.Background()

	f.mu.Lock()
	pid, root := f.processID, f.rootURI
	f.mu.Unlock()
	f.log(lsp.MessageTypeLog, fmt.Sprintf("initialize processId=%d rootUri=%s", pid, root))
	f.log(lsp.MessageTypeInfo, "Indexing workspace")

	_ = f.conn.Notify(ctx, "$/progress", map[string]any{"token": "index", "value": map[string]any{"kind": "begin"}})
	_ = f.conn.Notify(ctx, "textDocument/publishDiagnostics", map[string]any{"uri": root, "diagnostics": []any{}})

	var result json.RawMessage
	err := f.conn.Call(ctx, "workspace/executeClientCommand", map[string]any{"command": "noop"}, &result)
	f.log(lsp.MessageTypeLog, fmt.Sprintf("executeClientCommand result=%s err=%v", result, err))

	err = f.conn.Call(ctx, "lsptest/unknown", nil, nil)
	code := 0
	if rpcErr, ok := err.(*jsonrpc2.Error); ok {
		code = int(rpcErr.Code)
	}
	f.log(lsp.MessageTypeLog, fmt.Sprintf("unknown request code=%d", code))

	if f.sc == NeverReady {
		return
	}
	f.log(lsp.MessageTypeInfo, ReadyMarker)

	if f.sc == CrashAfterReady {
		time.Sleep(200 * time.Millisecond)
		f.exit <- 4
	}
}

func (f *fake) log(t lsp.MessageType, msg string) {
	_ = f.conn.Notify(context.Background(), "window/logMessage", lsp.LogMessageParams{Type: t, Message: msg})
}

func (f *fake) references(req *jsonrpc2.Request) (any, error) {
	var p lsp.ReferenceParams
	if err := unmarshal(req, &p); err != nil {
		return nil, err
	}
	if err := f.requireOpen(p.TextDocument.URI); err != nil {
		return nil, err
	}
	if p.Position.Line == EmptyLine {
		return nil, nil
	}
	if !p.Context.IncludeDeclaration {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "includeDeclaration must be set"}
	}

	at := lsp.Range{Start: p.Position, End: lsp.Position{Line: p.Position.Line, Character: p.Position.Character + 11}}
	return []lsp.Location{
		{URI: p.TextDocument.URI, Range: at},
		{URI: f.under(ReferencePath), Range: lsp.Range{
			Start: lsp.Position{Line: 32, Character: 4},
			End:   lsp.Position{Line: 32, Character: 15},
		}},
	}, nil
}

func (f *fake) definition(req *jsonrpc2.Request) (any, error) {
	var p lsp.TextDocumentPositionParams
	if err := unmarshal(req, &p); err != nil {
		return nil, err
	}
	if err := f.requireOpen(p.TextDocument.URI); err != nil {
		return nil, err
	}
	if p.Position.Line == EmptyLine {
		return nil, nil
	}
	return []lsp.LocationLink{{
		TargetURI:            f.under(DefinitionPath),
		TargetRange:          lsp.Range{Start: lsp.Position{Line: 5, Character: 0}, End: lsp.Position{Line: 20, Character: 3}},
		TargetSelectionRange: DefinitionRange,
	}}, nil
}

func (f *fake) requireOpen(uri lsp.DocumentURI) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[string(uri)] {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "document not open: " + string(uri)}
	}
	return nil
}

func (f *fake) under(rel string) lsp.DocumentURI {
	f.mu.Lock()
	root := f.rootURI
	f.mu.Unlock()

	u, err := url.Parse(root)
	if err != nil {
		return lsp.DocumentURI(root + "/" + rel)
	}
	u.Path = path.Join(u.Path, rel)
	return lsp.DocumentURI(u.String())
}

func unmarshal(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
