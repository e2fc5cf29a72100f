package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/sandbox"
	"github.com/bloomlabs/bloom/pkg/store"
)

// ErrSandboxUnavailable is returned when a sandbox run cannot reach a usable
// state: creation failed, the remote session stopped answering, or the
// readiness wait timed out.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// SessionManager acquires or reuses a sandbox session bound to a chat and
// tracks the run record that represents it.
type SessionManager struct {
	provider sandbox.Provider
	runs     store.RunStore
	cfg      Config
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(provider sandbox.Provider, runs store.RunStore, cfg Config) *SessionManager {
	return &SessionManager{provider: provider, runs: runs, cfg: cfg}
}

// SessionRun is the result of EnsureRun: a live session and the run record
// tracking it.
type SessionRun struct {
	Session sandbox.Session
	RunID   string
	Reused  bool
}

// EnsureRun finds the chat's most recent reusable run and reconnects to its
// session, or provisions a fresh session and run record. Sandbox creation is
// expensive and billable; reuse also preserves in-progress dev-server state
// across turns in the same chat.
func (m *SessionManager) EnsureRun(ctx context.Context, chatID string) (*SessionRun, error) {
	runs, err := m.runs.ListRunsByChat(ctx, chatID)
	if err != nil {
		runs = nil
	}

	for _, run := range runs {
		if run.SandboxID == "" {
			continue
		}
		if run.Status != domain.RunReady && run.Status != domain.RunRunning {
			continue
		}

		session, err := m.provider.Connect(ctx, run.SandboxID)
		if err != nil {
			slog.Info("Sandbox reconnect failed, provisioning fresh", "chatID", chatID, "sandboxID", run.SandboxID, "error", err)
			if err := m.runs.SetRunStatus(ctx, run.ID, domain.RunOff, "", "Sandbox unavailable. Creating a fresh instance."); err != nil {
				slog.Warn("Failed to mark run off", "runID", run.ID, "error", err)
			}
			break
		}

		if err := session.SetTimeout(m.cfg.SessionTimeout); err != nil {
			slog.Warn("Failed to reset session timeout", "sandboxID", run.SandboxID, "error", err)
		}
		return &SessionRun{Session: session, RunID: run.ID, Reused: true}, nil
	}

	session, err := m.provider.Create(ctx, m.cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: creating session: %v", ErrSandboxUnavailable, err)
	}
	if err := session.SetTimeout(m.cfg.SessionTimeout); err != nil {
		slog.Warn("Failed to set session timeout", "sandboxID", session.ID(), "error", err)
	}

	run := &domain.Run{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SandboxID: session.ID(),
		Status:    domain.RunReady,
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("registering run: %w", err)
	}

	slog.Info("Sandbox run created", "chatID", chatID, "runID", run.ID, "sandboxID", session.ID())
	return &SessionRun{Session: session, RunID: run.ID, Reused: false}, nil
}

// WaitReady polls the run's status until it is ready or running, the run is
// observed failed/off, or the deadline passes. Transient read errors are
// tolerated while time remains.
func (m *SessionManager) WaitReady(ctx context.Context, runID string) error {
	deadline := time.Now().Add(m.cfg.ReadyTimeout)

	for {
		run, err := m.runs.GetRun(ctx, runID)
		if err == nil {
			switch run.Status {
			case domain.RunReady, domain.RunRunning:
				return nil
			case domain.RunFailed, domain.RunOff:
				reason := run.Error
				if reason == "" {
					reason = "Sandbox failed to initialize."
				}
				return fmt.Errorf("%w: %s", ErrSandboxUnavailable, reason)
			}
		} else if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not ready in time, retry in a few seconds", ErrSandboxUnavailable)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReadyPoll):
		}
	}
}

// Snapshot runs a fixed battery of read-only probes and concatenates titled
// sections into one text blob used as planning context. A failing probe
// contributes "(no output)" instead of aborting the snapshot.
func (m *SessionManager) Snapshot(ctx context.Context, session sandbox.Session, log *LogWriter) string {
	root := m.cfg.RootPath
	var sections []string

	// Make sure the root exists before probing it.
	_ = runSandboxCommand(ctx, session, fmt.Sprintf("bash -lc 'mkdir -p %s'", root), log, runOpts{quiet: true})

	capture := func(title, command string) {
		var buf strings.Builder
		safe := "(" + command + ") || true"
		err := runSandboxCommand(ctx, session, WrapProjectCommand(root, safe), log, runOpts{
			quiet:   true,
			collect: func(chunk string) { buf.WriteString(chunk) },
		})
		content := strings.TrimSpace(buf.String())
		if err != nil || content == "" {
			content = "(no output)"
		}
		sections = append(sections, "## "+title+"\n"+content)
	}

	capture("Root listing", "ls -la . | head -n 200")
	capture("Directory tree (depth 3)", "find . -maxdepth 3 -type f -print | head -n 200")
	capture("Key files", "ls app 2>/dev/null; echo ''; ls components 2>/dev/null")
	capture("package.json", "if [ -f package.json ]; then sed -n '1,200p' package.json; else echo 'package.json missing'; fi")
	capture("Entry points",
		"if [ -f app/_layout.tsx ]; then sed -n '1,160p' app/_layout.tsx; fi;"+
			"if [ -f app/index.tsx ]; then echo ''; sed -n '1,160p' app/index.tsx; fi;"+
			"if [ -f app/details.tsx ]; then echo ''; sed -n '1,160p' app/details.tsx; fi;")

	return strings.Join(sections, "\n\n")
}

// runOpts controls one streamed sandbox command from the agent's side.
type runOpts struct {
	background bool
	quiet      bool
	collect    func(chunk string)
}

// runSandboxCommand executes a command in the session, routing stdout to the
// collector and the log (unless quiet) and stderr to the log.
func runSandboxCommand(ctx context.Context, session sandbox.Session, command string, log *LogWriter, o runOpts) error {
	return session.RunCommand(ctx, command, sandbox.RunOptions{
		Background: o.background,
		OnStdout: func(chunk string) {
			if o.collect != nil {
				o.collect(chunk)
			}
			if !o.quiet && log != nil {
				log.Push(chunk)
			}
		},
		OnStderr: func(chunk string) {
			if log != nil {
				log.Push(chunk)
			}
		},
	})
}
