package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// NotificationHandler handles a server-to-client notification.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler handles a server-to-client request. The returned value
// is sent as the result; a returned error is sent as the error object.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// HandlerRegistry maps inbound method names to handlers.
//
// Handlers are registered before the transport starts. Once a transport
// is built on top of the registry it is frozen and further registration
// panics, so no inbound message can race a late registration.
type HandlerRegistry struct {
	mu            sync.RWMutex
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler
	frozen        bool
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
	}
}

// OnNotification registers a handler for a notification method.
// The method "*" registers a fallback for methods without a handler.
func (r *HandlerRegistry) OnNotification(method string, handler NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen(method)
	r.notifications[method] = handler
}

// OnRequest registers a handler for a request method.
func (r *HandlerRegistry) OnRequest(method string, handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen(method)
	r.requests[method] = handler
}

// Ignore registers no-op handlers for notification methods the client
// consumes without acting on.
func (r *HandlerRegistry) Ignore(methods ...string) {
	for _, m := range methods {
		r.OnNotification(m, func(string, json.RawMessage) {})
	}
}

// Reply registers a request handler that always answers with result.
func (r *HandlerRegistry) Reply(method string, result any) {
	r.OnRequest(method, func(context.Context, string, json.RawMessage) (any, error) {
		return result, nil
	})
}

// Frozen reports whether the registry accepts no more handlers.
func (r *HandlerRegistry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *HandlerRegistry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *HandlerRegistry) mustBeOpen(method string) {
	if r.frozen {
		panic(fmt.Sprintf("lsp: handler for %q registered after transport start", method))
	}
}

func (r *HandlerRegistry) notification(method string) (NotificationHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.notifications[method]; ok {
		return h, true
	}
	h, ok := r.notifications["*"]
	return h, ok
}

// registered returns the handler registered for exactly method, ignoring
// the "*" fallback.
func (r *HandlerRegistry) registered(method string) NotificationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifications[method]
}

func (r *HandlerRegistry) request(method string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.requests[method]
	return h, ok
}
