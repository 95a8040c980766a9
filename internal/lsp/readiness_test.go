package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	if l.IsSet() {
		t.Fatal("new latch is set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait() on unset latch returned nil")
	}

	if !l.Set() {
		t.Error("first Set() = false")
	}
	if l.Set() {
		t.Error("second Set() = true")
	}
	if !l.IsSet() {
		t.Error("IsSet() = false after Set")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after Set error = %v", err)
	}
}

func TestLatch_ConcurrentSet(t *testing.T) {
	l := NewLatch()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Set() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("%d goroutines set the latch, want 1", winners)
	}
}

func TestContainsMatcher(t *testing.T) {
	m := ContainsMatcher("Finished")

	tests := []struct {
		text string
		want bool
	}{
		{"Finished indexing 42 files", true},
		{"Ruby LSP is Finished", true},
		{"Indexing workspace", false},
		{"finished", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m(LogEvent{Level: MessageTypeInfo, Text: tt.text}); got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func logMessage(t *testing.T, typ MessageType, msg string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(LogMessageParams{Type: typ, Message: msg})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDetector_SetsLatchOnMatch(t *testing.T) {
	d := NewDetector(ContainsMatcher("Finished"), nil)

	d.handle("window/logMessage", logMessage(t, MessageTypeInfo, "Indexing"))
	if d.Latch().IsSet() {
		t.Fatal("latch set by non-matching message")
	}

	d.handle("window/logMessage", logMessage(t, MessageTypeInfo, "Finished indexing"))
	if !d.Latch().IsSet() {
		t.Fatal("latch not set by matching message")
	}

	// Later messages never unset it.
	d.handle("window/logMessage", logMessage(t, MessageTypeError, "something else"))
	if !d.Latch().IsSet() {
		t.Fatal("latch unset by later message")
	}

	want := []LogEvent{
		{Level: MessageTypeInfo, Text: "Indexing"},
		{Level: MessageTypeInfo, Text: "Finished indexing"},
		{Level: MessageTypeError, Text: "something else"},
	}
	if diff := cmp.Diff(want, d.History()); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}
}

func TestDetector_MatchesOnLevel(t *testing.T) {
	d := NewDetector(func(ev LogEvent) bool {
		return ev.Level == MessageTypeWarning
	}, nil)

	d.Observe(LogEvent{Level: MessageTypeInfo, Text: "ready"})
	if d.Latch().IsSet() {
		t.Fatal("matcher ignored level")
	}
	d.Observe(LogEvent{Level: MessageTypeWarning, Text: "anything"})
	if !d.Latch().IsSet() {
		t.Fatal("latch not set")
	}
}

func TestDetector_MalformedParamsIgnored(t *testing.T) {
	d := NewDetector(ContainsMatcher("Finished"), nil)

	d.handle("window/logMessage", json.RawMessage(`{"type": "info", "message": 3}`))
	d.handle("window/logMessage", json.RawMessage(`not json`))

	if d.Latch().IsSet() {
		t.Error("latch set by malformed message")
	}
	if n := len(d.History()); n != 0 {
		t.Errorf("History() has %d events, want 0", n)
	}
}

func TestDetector_NilMatcherNeverFires(t *testing.T) {
	d := NewDetector(nil, nil)
	d.Observe(LogEvent{Level: MessageTypeInfo, Text: "Finished"})
	if d.Latch().IsSet() {
		t.Error("nil matcher set the latch")
	}
}

func TestDetector_HistoryBounded(t *testing.T) {
	d := NewDetector(nil, nil)
	for i := 0; i < defaultHistorySize+10; i++ {
		d.Observe(LogEvent{Level: MessageTypeLog, Text: fmt.Sprintf("msg %d", i)})
	}

	h := d.History()
	if len(h) != defaultHistorySize {
		t.Fatalf("len(History()) = %d, want %d", len(h), defaultHistorySize)
	}
	if h[0].Text != "msg 10" {
		t.Errorf("oldest event = %q, want msg 10", h[0].Text)
	}
	if last := h[len(h)-1].Text; last != fmt.Sprintf("msg %d", defaultHistorySize+9) {
		t.Errorf("newest event = %q", last)
	}
}

func TestDetector_Register(t *testing.T) {
	reg := NewHandlerRegistry()
	d := NewDetector(ContainsMatcher("Finished"), nil)
	d.Register(reg)

	h, ok := reg.notification("window/logMessage")
	if !ok {
		t.Fatal("window/logMessage not registered")
	}
	h("window/logMessage", logMessage(t, MessageTypeInfo, "Finished"))
	if !d.Latch().IsSet() {
		t.Error("registered handler did not feed the detector")
	}
}

func TestDetector_RegisterKeepsExistingHandler(t *testing.T) {
	reg := NewHandlerRegistry()
	var seen []string
	reg.OnNotification("window/logMessage", func(_ string, params json.RawMessage) {
		var msg LogMessageParams
		if err := json.Unmarshal(params, &msg); err != nil {
			t.Error(err)
		}
		seen = append(seen, msg.Message)
	})

	d := NewDetector(ContainsMatcher("Finished"), nil)
	d.Register(reg)

	h, _ := reg.notification("window/logMessage")
	h("window/logMessage", logMessage(t, MessageTypeInfo, "Indexing"))
	h("window/logMessage", logMessage(t, MessageTypeInfo, "Finished"))

	if !d.Latch().IsSet() {
		t.Error("detector did not see the ready message")
	}
	if diff := cmp.Diff([]string{"Indexing", "Finished"}, seen); diff != "" {
		t.Errorf("existing handler calls mismatch (-want +got):\n%s", diff)
	}
}
