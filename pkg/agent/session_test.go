package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/sandbox/sandboxtest"
)

func TestEnsureRunCreatesFresh(t *testing.T) {
	store := newMemStore()
	provider := sandboxtest.NewProvider()
	m := NewSessionManager(provider, store, testConfig())

	sr, err := m.EnsureRun(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("EnsureRun: %v", err)
	}
	if sr.Reused {
		t.Error("fresh run reported as reused")
	}
	if provider.CreatedCount() != 1 {
		t.Errorf("CreatedCount = %d, want 1", provider.CreatedCount())
	}

	run, err := store.GetRun(context.Background(), sr.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunReady {
		t.Errorf("Status = %q, want ready", run.Status)
	}
	if run.SandboxID != sr.Session.ID() {
		t.Errorf("SandboxID = %q, want %q", run.SandboxID, sr.Session.ID())
	}
}

func TestEnsureRunReusesLiveSession(t *testing.T) {
	store := newMemStore()
	provider := sandboxtest.NewProvider()
	m := NewSessionManager(provider, store, testConfig())

	first, err := m.EnsureRun(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("EnsureRun: %v", err)
	}

	second, err := m.EnsureRun(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("EnsureRun (reuse): %v", err)
	}
	if !second.Reused {
		t.Error("expected session reuse")
	}
	if second.RunID != first.RunID {
		t.Errorf("RunID = %q, want %q", second.RunID, first.RunID)
	}
	if provider.CreatedCount() != 1 {
		t.Errorf("CreatedCount = %d, want 1 (no new session)", provider.CreatedCount())
	}
}

func TestEnsureRunMarksDeadSessionOff(t *testing.T) {
	store := newMemStore()
	provider := sandboxtest.NewProvider()
	m := NewSessionManager(provider, store, testConfig())

	first, err := m.EnsureRun(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("EnsureRun: %v", err)
	}

	// Simulate the remote session dying between turns.
	provider.ConnectErr = errors.New("connection refused")

	second, err := m.EnsureRun(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("EnsureRun after death: %v", err)
	}
	if second.Reused {
		t.Error("dead session reported as reused")
	}
	if second.RunID == first.RunID {
		t.Error("expected a fresh run record")
	}

	old, _ := store.GetRun(context.Background(), first.RunID)
	if old.Status != domain.RunOff {
		t.Errorf("old run status = %q, want off", old.Status)
	}
	if !strings.Contains(old.Error, "Sandbox unavailable") {
		t.Errorf("old run error = %q", old.Error)
	}
}

func TestEnsureRunCreateFailure(t *testing.T) {
	store := newMemStore()
	provider := sandboxtest.NewProvider()
	provider.CreateErr = errors.New("quota exceeded")
	m := NewSessionManager(provider, store, testConfig())

	_, err := m.EnsureRun(context.Background(), "chat-1")
	if !errors.Is(err, ErrSandboxUnavailable) {
		t.Fatalf("err = %v, want ErrSandboxUnavailable", err)
	}
}

func TestWaitReady(t *testing.T) {
	store := newMemStore()
	m := NewSessionManager(sandboxtest.NewProvider(), store, testConfig())
	ctx := context.Background()

	run := &domain.Run{ID: "run-1", ChatID: "chat-1", SandboxID: "sb", Status: domain.RunReady}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := m.WaitReady(ctx, "run-1"); err != nil {
		t.Errorf("WaitReady(ready) = %v", err)
	}

	store.SetRunStatus(ctx, "run-1", domain.RunRunning, "", "")
	if err := m.WaitReady(ctx, "run-1"); err != nil {
		t.Errorf("WaitReady(running) = %v", err)
	}

	store.SetRunStatus(ctx, "run-1", domain.RunFailed, "", "boom")
	err := m.WaitReady(ctx, "run-1")
	if !errors.Is(err, ErrSandboxUnavailable) {
		t.Fatalf("WaitReady(failed) = %v, want ErrSandboxUnavailable", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error missing stored reason: %v", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.ReadyTimeout = 50 * time.Millisecond
	m := NewSessionManager(sandboxtest.NewProvider(), store, cfg)

	// Run does not exist, so every poll errors until the deadline.
	err := m.WaitReady(context.Background(), "ghost")
	if !errors.Is(err, ErrSandboxUnavailable) {
		t.Fatalf("err = %v, want ErrSandboxUnavailable", err)
	}
}

func TestSnapshot(t *testing.T) {
	store := newMemStore()
	m := NewSessionManager(sandboxtest.NewProvider(), store, testConfig())

	session := sandboxtest.NewSession("sb-1")
	session.RespondWith("ls -la . | head", "total 8\napp\npackage.json\n")
	session.RespondWith("package.json", `{"name": "bloom-app"}`)

	snapshot := m.Snapshot(context.Background(), session, nil)

	if !strings.Contains(snapshot, "## Root listing") {
		t.Errorf("missing root listing section:\n%s", snapshot)
	}
	if !strings.Contains(snapshot, "package.json") {
		t.Errorf("missing package.json section:\n%s", snapshot)
	}
	// Probes with no scripted output degrade to a placeholder.
	if !strings.Contains(snapshot, "(no output)") {
		t.Errorf("missing placeholder for silent probes:\n%s", snapshot)
	}
}
