package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bloomlabs/bloom/pkg/store"
)

// LogWriter buffers log chunks for a run and flushes them to the run store on
// a debounce timer, so high-frequency command output does not produce one
// store call per chunk. Flush is also called explicitly at phase boundaries
// and on every exit path; Close stops the timer before the final flush so no
// buffered output is lost and no timer outlives the turn.
type LogWriter struct {
	runs     store.RunStore
	runID    string
	interval time.Duration

	mu    sync.Mutex
	buf   strings.Builder
	timer *time.Timer
}

// NewLogWriter creates a buffered log writer for the given run.
func NewLogWriter(runs store.RunStore, runID string, interval time.Duration) *LogWriter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &LogWriter{runs: runs, runID: runID, interval: interval}
}

// Push appends a chunk to the buffer without blocking. The first push after a
// flush arms the debounce timer.
func (w *LogWriter) Push(chunk string) {
	if chunk == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.WriteString(chunk)
	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.Flush(ctx); err != nil {
			slog.Warn("Log flush failed", "runID", w.runID, "error", err)
		}
	})
}

// Flush sends the buffered text to the run store and clears the buffer.
func (w *LogWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	chunk := w.buf.String()
	w.buf.Reset()
	w.mu.Unlock()

	if chunk == "" {
		return nil
	}
	return w.runs.AppendRunLogs(ctx, w.runID, chunk)
}

// Close cancels any pending timer and performs a final flush.
func (w *LogWriter) Close(ctx context.Context) error {
	return w.Flush(ctx)
}
