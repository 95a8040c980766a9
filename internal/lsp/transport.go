package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/dshills/lspadapter/internal/logging"
)

// Transport carries JSON-RPC 2.0 over a byte stream framed with LSP
// Content-Length headers.
//
// Inbound messages are dispatched one at a time in arrival order, so a
// handler never observes a later message before an earlier one has been
// handled. Handlers must therefore not issue calls on the same transport.
type Transport struct {
	conn     *jsonrpc2.Conn
	registry *HandlerRegistry
	log      logrus.FieldLogger

	closed atomic.Bool
}

// TransportOption configures a Transport.
type TransportOption func(*transportConfig)

type transportConfig struct {
	log   logrus.FieldLogger
	trace bool
}

// WithTransportLogger sets the logger for protocol diagnostics.
func WithTransportLogger(l logrus.FieldLogger) TransportOption {
	return func(c *transportConfig) {
		c.log = l
	}
}

// WithTrace logs every message sent and received at trace level.
func WithTrace(enable bool) TransportOption {
	return func(c *transportConfig) {
		c.trace = enable
	}
}

// NewTransport starts a transport over rwc. The registry is frozen
// before the first byte is read. Closing the transport closes rwc.
func NewTransport(rwc io.ReadWriteCloser, registry *HandlerRegistry, opts ...TransportOption) *Transport {
	cfg := transportConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logging.WithComponent(cfg.log, "transport")

	if registry == nil {
		registry = NewHandlerRegistry()
	}
	registry.freeze()

	t := &Transport{
		registry: registry,
		log:      log,
	}

	connOpts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(printfLogger{log.Debugf})}
	if cfg.trace {
		connOpts = append(connOpts, jsonrpc2.LogMessages(printfLogger{log.WithField("stream", "wire").Tracef}))
	}

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	t.conn = jsonrpc2.NewConn(context.Background(), stream, t, connOpts...)
	return t
}

// Call sends a request and waits for its response. A nil result
// discards the response body. Error responses are returned as *RPCError.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	var raw json.RawMessage
	if err := t.conn.Call(ctx, method, params, &raw); err != nil {
		return t.mapError(err)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return errors.Join(ErrInvalidResponse, err)
	}
	return nil
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	return t.mapError(t.conn.Notify(ctx, method, params))
}

// Done is closed when the connection is closed by either side.
func (t *Transport) Done() <-chan struct{} {
	return t.conn.DisconnectNotify()
}

// Close closes the transport and the underlying stream. Pending calls
// return ErrConnectionClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return err
	}
	return nil
}

// IsClosed returns true if the transport has been closed locally.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Handle implements jsonrpc2.Handler. It runs on the read loop.
func (t *Transport) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	if req.Notif {
		handler, ok := t.registry.notification(req.Method)
		if !ok || handler == nil {
			t.log.WithField("method", req.Method).Debug("dropping unhandled notification")
			return
		}
		handler(req.Method, params)
		return
	}

	handler, ok := t.registry.request(req.Method)
	if !ok || handler == nil {
		t.log.WithField("method", req.Method).Debug("rejecting unhandled request")
		t.reply(ctx, conn, req, nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method})
		return
	}

	result, err := handler(ctx, req.Method, params)
	t.reply(ctx, conn, req, result, err)
}

func (t *Transport) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any, err error) {
	var sendErr error
	if err != nil {
		sendErr = conn.ReplyWithError(ctx, req.ID, toWire(err))
	} else {
		sendErr = conn.Reply(ctx, req.ID, result)
	}
	if sendErr != nil && !errors.Is(sendErr, jsonrpc2.ErrClosed) {
		t.log.WithError(sendErr).WithField("method", req.Method).Warn("failed to reply")
	}
}

func (t *Transport) mapError(err error) error {
	if err == nil {
		return nil
	}
	var wire *jsonrpc2.Error
	if errors.As(err, &wire) {
		return fromWire(wire)
	}
	if errors.Is(err, jsonrpc2.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}

// printfLogger adapts a logrus level method to jsonrpc2.Logger.
type printfLogger struct {
	printf func(format string, args ...any)
}

func (p printfLogger) Printf(format string, args ...any) {
	p.printf(format, args...)
}
