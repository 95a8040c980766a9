package lsp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/lspadapter/internal/logging"
)

// Latch is a one-shot signal. Once set it stays set.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch creates an unset latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set sets the latch. It reports whether this call was the one that set it.
func (l *Latch) Set() bool {
	set := false
	l.once.Do(func() {
		close(l.ch)
		set = true
	})
	return set
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// IsSet reports whether the latch has been set.
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is set or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogEvent is one window/logMessage from the server.
type LogEvent struct {
	Level MessageType `json:"level"`
	Text  string      `json:"text"`
}

// Matcher decides whether a log event means the server is ready.
type Matcher func(LogEvent) bool

// ContainsMatcher matches events whose text contains substr.
func ContainsMatcher(substr string) Matcher {
	return func(ev LogEvent) bool {
		return strings.Contains(ev.Text, substr)
	}
}

const defaultHistorySize = 256

// Detector watches window/logMessage and sets its latch on the first
// event the matcher accepts.
type Detector struct {
	matcher Matcher
	latch   *Latch
	log     logrus.FieldLogger

	mu      sync.Mutex
	history []LogEvent
	limit   int
}

// NewDetector creates a detector. A nil matcher never fires.
func NewDetector(matcher Matcher, log logrus.FieldLogger) *Detector {
	return &Detector{
		matcher: matcher,
		latch:   NewLatch(),
		log:     logging.WithComponent(log, "readiness"),
		limit:   defaultHistorySize,
	}
}

// Register installs the window/logMessage handler on reg. A handler
// already registered for the method keeps running after the detector.
func (d *Detector) Register(reg *HandlerRegistry) {
	prev := reg.registered("window/logMessage")
	if prev == nil {
		reg.OnNotification("window/logMessage", d.handle)
		return
	}
	reg.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		d.handle(method, params)
		prev(method, params)
	})
}

func (d *Detector) handle(_ string, params json.RawMessage) {
	var msg LogMessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		d.log.WithError(err).Warn("malformed window/logMessage")
		return
	}
	d.Observe(LogEvent{Level: msg.Type, Text: msg.Message})
}

// Observe records ev and sets the latch if it matches.
func (d *Detector) Observe(ev LogEvent) {
	d.log.WithField("level", ev.Level).Infof("lsp: window/logMessage: %s", ev.Text)

	d.mu.Lock()
	d.history = append(d.history, ev)
	if over := len(d.history) - d.limit; over > 0 {
		d.history = append(d.history[:0:0], d.history[over:]...)
	}
	d.mu.Unlock()

	if d.matcher != nil && d.matcher(ev) && d.latch.Set() {
		d.log.Debug("server reported ready")
	}
}

// Latch returns the readiness latch.
func (d *Detector) Latch() *Latch {
	return d.latch
}

// History returns the most recent log events, oldest first.
func (d *Detector) History() []LogEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LogEvent(nil), d.history...)
}
