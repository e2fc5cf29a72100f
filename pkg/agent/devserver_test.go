package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/sandbox/sandboxtest"
)

func TestDevServerStartForChat(t *testing.T) {
	store := newMemStore()
	sandboxes := sandboxtest.NewProvider()
	cfg := testConfig()
	sessions := NewSessionManager(sandboxes, store, cfg)
	d := NewDevServer(sessions, store, cfg)
	ctx := context.Background()

	// The fake session answers every command, so the first port probe
	// succeeds and the requested port wins.
	sr, previewURL, err := d.StartForChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("StartForChat: %v", err)
	}
	if previewURL != "http://127.0.0.1:8081" {
		t.Errorf("previewURL = %q", previewURL)
	}

	run, err := store.GetRun(ctx, sr.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunRunning {
		t.Errorf("run status = %q, want running", run.Status)
	}
	if run.PreviewURL != previewURL {
		t.Errorf("run preview = %q, want %q", run.PreviewURL, previewURL)
	}

	// The dev server was launched in the background inside the project root.
	session := sr.Session.(*sandboxtest.Session)
	var started bool
	for _, cmd := range session.Commands() {
		if strings.Contains(cmd, "npx expo start --web") {
			started = true
		}
	}
	if !started {
		t.Errorf("expo start not issued; commands = %v", session.Commands())
	}
}

func TestDevServerStop(t *testing.T) {
	store := newMemStore()
	sandboxes := sandboxtest.NewProvider()
	cfg := testConfig()
	sessions := NewSessionManager(sandboxes, store, cfg)
	d := NewDevServer(sessions, store, cfg)
	ctx := context.Background()

	sr, _, err := d.StartForChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("StartForChat: %v", err)
	}

	if err := d.Stop(ctx, sandboxes, sr.RunID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	run, _ := store.GetRun(ctx, sr.RunID)
	if run.Status != domain.RunOff {
		t.Errorf("run status = %q, want off", run.Status)
	}
	if !sr.Session.(*sandboxtest.Session).Killed() {
		t.Error("session not killed")
	}
}
