package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/jsonrpc2"
)

// duplex joins one read end and one write end of two pipes.
type duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *duplex) Read(b []byte) (int, error)  { return d.r.Read(b) }
func (d *duplex) Write(b []byte) (int, error) { return d.w.Write(b) }

func (d *duplex) Close() error {
	d.r.Close()
	d.w.Close()
	return nil
}

func newPipePair() (client, server io.ReadWriteCloser) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()
	return &duplex{r: clientRead, w: clientWrite}, &duplex{r: serverRead, w: serverWrite}
}

type peerFunc func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error)

// newPeer starts a transport for reg and a jsonrpc2 peer answering with fn.
func newPeer(t *testing.T, reg *HandlerRegistry, fn peerFunc) (*Transport, *jsonrpc2.Conn) {
	t.Helper()

	clientSide, serverSide := newPipePair()
	if fn == nil {
		fn = func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) { return nil, nil }
	}
	peer := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(fn),
		jsonrpc2.SetLogger(log.New(io.Discard, "", 0)))

	transport := NewTransport(clientSide, reg)
	t.Cleanup(func() {
		transport.Close()
		peer.Close()
	})
	return transport, peer
}

func TestTransport_Call(t *testing.T) {
	transport, _ := newPeer(t, nil, func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Method != "test/method" {
			return nil, &jsonrpc2.Error{Code: CodeMethodNotFound, Message: req.Method}
		}
		return map[string]string{"status": "ok"}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result map[string]string
	if err := transport.Call(ctx, "test/method", map[string]int{"n": 1}, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("result = %v, want status ok", result)
	}
}

func TestTransport_CallNilResult(t *testing.T) {
	transport, _ := newPeer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := transport.Call(ctx, "shutdown", nil, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}

func TestTransport_CallWithError(t *testing.T) {
	transport, _ := newPeer(t, nil, func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		return nil, &jsonrpc2.Error{Code: CodeInvalidParams, Message: "bad params"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := transport.Call(ctx, "test/method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeInvalidParams || rpcErr.Message != "bad params" {
		t.Errorf("RPCError = %+v", rpcErr)
	}
}

func TestTransport_CallInvalidResult(t *testing.T) {
	transport, _ := newPeer(t, nil, func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		return "not an object", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result map[string]string
	err := transport.Call(ctx, "test/method", nil, &result)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("Call() error = %v, want ErrInvalidResponse", err)
	}
}

func TestTransport_SendNotification(t *testing.T) {
	got := make(chan string, 1)
	transport, _ := newPeer(t, nil, func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Notif {
			got <- req.Method + " " + string(*req.Params)
		}
		return nil, nil
	})

	if err := transport.Notify(context.Background(), "test/notification", map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case msg := <-got:
		want := `test/notification {"message":"hello"}`
		if msg != want {
			t.Errorf("peer received %q, want %q", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive notification")
	}
}

func TestTransport_Notification(t *testing.T) {
	reg := NewHandlerRegistry()
	received := make(chan LogMessageParams, 1)
	reg.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err == nil {
			received <- p
		}
	})

	_, peer := newPeer(t, reg, nil)

	msg := LogMessageParams{Type: MessageTypeInfo, Message: "hello"}
	if err := peer.Notify(context.Background(), "window/logMessage", msg); err != nil {
		t.Fatalf("peer Notify() error = %v", err)
	}

	select {
	case p := <-received:
		if p != msg {
			t.Errorf("handler got %+v, want %+v", p, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler not called")
	}
}

func TestTransport_WildcardNotification(t *testing.T) {
	reg := NewHandlerRegistry()
	methods := make(chan string, 2)
	reg.OnNotification("*", func(method string, _ json.RawMessage) {
		methods <- method
	})

	_, peer := newPeer(t, reg, nil)
	if err := peer.Notify(context.Background(), "$/progress", map[string]string{"token": "x"}); err != nil {
		t.Fatalf("peer Notify() error = %v", err)
	}

	select {
	case m := <-methods:
		if m != "$/progress" {
			t.Errorf("wildcard got %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wildcard handler not called")
	}
}

func TestTransport_OrderedDispatch(t *testing.T) {
	const n = 200

	reg := NewHandlerRegistry()
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	reg.OnNotification("test/seq", func(_ string, params json.RawMessage) {
		var v int
		_ = json.Unmarshal(params, &v)
		// A slow early handler must not let later messages overtake it.
		if v == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		seen = append(seen, v)
		if len(seen) == n {
			close(done)
		}
		mu.Unlock()
	})

	_, peer := newPeer(t, reg, nil)
	for i := 0; i < n; i++ {
		if err := peer.Notify(context.Background(), "test/seq", i); err != nil {
			t.Fatalf("peer Notify(%d) error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all notifications handled")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("seen[%d] = %d; dispatch out of order", i, v)
		}
	}
}

func TestTransport_UnhandledNotificationDropped(t *testing.T) {
	reg := NewHandlerRegistry()
	handled := make(chan struct{})
	reg.OnNotification("test/known", func(string, json.RawMessage) { close(handled) })

	_, peer := newPeer(t, reg, nil)
	ctx := context.Background()
	if err := peer.Notify(ctx, "test/unknown", nil); err != nil {
		t.Fatal(err)
	}
	if err := peer.Notify(ctx, "test/known", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("transport stopped dispatching after an unhandled notification")
	}
}

func TestTransport_RequestHandler(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Reply("workspace/executeClientCommand", []any{})

	_, peer := newPeer(t, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result json.RawMessage
	if err := peer.Call(ctx, "workspace/executeClientCommand", map[string]string{"command": "x"}, &result); err != nil {
		t.Fatalf("peer Call() error = %v", err)
	}
	if string(result) != "[]" {
		t.Errorf("result = %s, want []", result)
	}
}

func TestTransport_RequestHandlerError(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.OnRequest("test/fail", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, &RPCError{Code: CodeRequestFailed, Message: "nope"}
	})
	reg.OnRequest("test/plain", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, errors.New("plain failure")
	})

	_, peer := newPeer(t, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tests := []struct {
		method string
		code   int64
	}{
		{"test/fail", CodeRequestFailed},
		{"test/plain", CodeInternalError},
		{"test/missing", CodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := peer.Call(ctx, tt.method, nil, nil)
			var wire *jsonrpc2.Error
			if !errors.As(err, &wire) {
				t.Fatalf("error = %v, want *jsonrpc2.Error", err)
			}
			if wire.Code != tt.code {
				t.Errorf("code = %d, want %d", wire.Code, tt.code)
			}
		})
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	transport, _ := newPeer(t, nil, func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := transport.Call(ctx, "test/slow", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTransport_Close(t *testing.T) {
	release := make(chan struct{})
	transport, _ := newPeer(t, nil, func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	pending := make(chan error, 1)
	go func() {
		pending <- transport.Call(context.Background(), "test/slow", nil, nil)
	}()
	time.Sleep(50 * time.Millisecond)

	if err := transport.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case err := <-pending:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("pending Call() error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not released by Close")
	}

	if err := transport.Notify(context.Background(), "test/after", nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Notify() after Close error = %v", err)
	}
	select {
	case <-transport.Done():
	default:
		t.Error("Done() not closed after Close")
	}
}

func TestTransport_IsClosed(t *testing.T) {
	transport, _ := newPeer(t, nil, nil)

	if transport.IsClosed() {
		t.Error("IsClosed() = true before Close")
	}
	transport.Close()
	if !transport.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestTransport_PeerDisconnect(t *testing.T) {
	transport, peer := newPeer(t, nil, nil)

	peer.Close()

	select {
	case <-transport.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after peer disconnect")
	}
}

func TestHandlerRegistry_FrozenAfterTransportStart(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Ignore("$/progress")
	if reg.Frozen() {
		t.Fatal("registry frozen before transport start")
	}

	newPeer(t, reg, nil)
	if !reg.Frozen() {
		t.Fatal("registry not frozen after transport start")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering after freeze did not panic")
		}
	}()
	reg.OnNotification("late", func(string, json.RawMessage) {})
}

// lockedBuffer is a bytes.Buffer safe for the transport's reader goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTransport_Trace(t *testing.T) {
	out := &lockedBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.TraceLevel)

	clientSide, serverSide := newPipePair()
	peer := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return "pong", nil
		}),
		jsonrpc2.SetLogger(log.New(io.Discard, "", 0)))
	transport := NewTransport(clientSide, nil, WithTransportLogger(logger), WithTrace(true))
	defer func() {
		transport.Close()
		peer.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result string
	if err := transport.Call(ctx, "trace/ping", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "trace/ping") {
		t.Errorf("trace output does not mention the method:\n%s", got)
	}
	if !strings.Contains(got, "stream=wire") {
		t.Errorf("trace output lacks the wire field:\n%s", got)
	}
}

func TestTransport_TraceDisabled(t *testing.T) {
	out := &lockedBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.TraceLevel)

	clientSide, serverSide := newPipePair()
	peer := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}),
		jsonrpc2.SetLogger(log.New(io.Discard, "", 0)))
	transport := NewTransport(clientSide, nil, WithTransportLogger(logger))
	defer func() {
		transport.Close()
		peer.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := transport.Call(ctx, "trace/ping", nil, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if strings.Contains(out.String(), "stream=wire") {
		t.Errorf("wire trace logged without WithTrace:\n%s", out.String())
	}
}
