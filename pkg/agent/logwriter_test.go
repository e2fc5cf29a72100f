package agent

import (
	"context"
	"testing"
	"time"

	"github.com/bloomlabs/bloom/pkg/domain"
)

func newLogFixture(t *testing.T, interval time.Duration) (*LogWriter, *memStore) {
	t.Helper()
	store := newMemStore()
	run := &domain.Run{ID: "run-1", ChatID: "chat-1", SandboxID: "sb-1", Status: domain.RunReady}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return NewLogWriter(store, "run-1", interval), store
}

func TestLogWriterDebounce(t *testing.T) {
	w, store := newLogFixture(t, 20*time.Millisecond)

	w.Push("one ")
	w.Push("two ")
	w.Push("three")

	// Nothing is stored until the debounce window elapses.
	if got := store.runLogs("run-1"); got != "" {
		t.Fatalf("logs flushed early: %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.runLogs("run-1") == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.runLogs("run-1"); got != "one two three" {
		t.Errorf("logs = %q, want %q", got, "one two three")
	}
}

func TestLogWriterExplicitFlush(t *testing.T) {
	w, store := newLogFixture(t, time.Hour)

	w.Push("chunk")
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := store.runLogs("run-1"); got != "chunk" {
		t.Errorf("logs = %q, want %q", got, "chunk")
	}

	// Flushing an empty buffer is a no-op.
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush empty: %v", err)
	}
	if got := store.runLogs("run-1"); got != "chunk" {
		t.Errorf("logs after empty flush = %q", got)
	}
}

func TestLogWriterCloseFlushesPending(t *testing.T) {
	w, store := newLogFixture(t, time.Hour)

	w.Push("tail")
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := store.runLogs("run-1"); got != "tail" {
		t.Errorf("logs = %q, want %q", got, "tail")
	}
}
