package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/sandbox"
	"github.com/bloomlabs/bloom/pkg/store"
)

var devServerURLRe = regexp.MustCompile(`(?i)https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d+)`)

// devServerRequestedPort is where Expo Web binds by default; the candidate
// list below covers the fallbacks Expo and common bundlers pick when it is
// taken.
const devServerRequestedPort = 8081

var devServerCandidatePorts = []int{19006, 5173, 3000, 3001, 3002, 19000, 19001, 19002, 19003}

// DevServer starts and stops the in-sandbox web dev server and resolves its
// externally reachable preview URL.
type DevServer struct {
	sessions *SessionManager
	runs     store.RunStore
	cfg      Config
}

// NewDevServer creates a DevServer.
func NewDevServer(sessions *SessionManager, runs store.RunStore, cfg Config) *DevServer {
	return &DevServer{sessions: sessions, runs: runs, cfg: cfg}
}

// StartForChat acquires the chat's sandbox session and launches the dev
// server in it, returning the run and the preview URL once a port responds.
func (d *DevServer) StartForChat(ctx context.Context, chatID string) (*SessionRun, string, error) {
	sr, err := d.sessions.EnsureRun(ctx, chatID)
	if err != nil {
		return nil, "", err
	}

	log := NewLogWriter(d.runs, sr.RunID, d.cfg.LogFlushInterval)
	defer func() {
		if err := log.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Final log flush failed", "runID", sr.RunID, "error", err)
		}
	}()

	previewURL, err := d.Start(ctx, sr.Session, sr.RunID, log)
	if err != nil {
		if serr := d.runs.SetRunStatus(ctx, sr.RunID, domain.RunFailed, "", err.Error()); serr != nil {
			slog.Warn("Failed to mark run failed", "runID", sr.RunID, "error", serr)
		}
		return sr, "", err
	}
	return sr, previewURL, nil
}

// Start launches the Expo web server in the background, watches its output
// for the bound port, polls until some candidate port responds, and records
// the preview URL on the run. The run stays in running status without a
// preview URL if no port opens before the deadline.
func (d *DevServer) Start(ctx context.Context, session sandbox.Session, runID string, log *LogWriter) (string, error) {
	if err := d.runs.SetRunStatus(ctx, runID, domain.RunRunning, "", ""); err != nil {
		return "", fmt.Errorf("marking run running: %w", err)
	}

	log.Push(fmt.Sprintf("\n[run] Starting Expo Web (requesting port %d)\n", devServerRequestedPort))

	var mu sync.Mutex
	detectedPort := 0
	detect := func(chunk string) {
		log.Push(chunk)
		mu.Lock()
		defer mu.Unlock()
		if detectedPort != 0 {
			return
		}
		if m := devServerURLRe.FindStringSubmatch(chunk); m != nil {
			if port, err := strconv.Atoi(m[1]); err == nil {
				detectedPort = port
				log.Push(fmt.Sprintf("\n[run] Detected web port from logs: %d\n", port))
			}
		}
	}

	startCmd := fmt.Sprintf("bash -lc 'cd %s && npx expo start --web | tee -a /home/user/preview.log'", d.cfg.RootPath)
	err := session.RunCommand(ctx, startCmd, sandbox.RunOptions{
		Background: true,
		OnStdout:   detect,
		OnStderr:   detect,
	})
	if err != nil {
		return "", fmt.Errorf("starting dev server: %w", err)
	}

	openPort := d.waitForOpenPort(ctx, session, func() int {
		mu.Lock()
		defer mu.Unlock()
		return detectedPort
	})
	if openPort == 0 {
		log.Push("[run] No open web port detected after waiting.\n")
		return "", nil
	}

	host, err := session.Host(openPort)
	if err != nil {
		return "", fmt.Errorf("resolving preview host: %w", err)
	}
	previewURL := "http://" + host

	log.Push(fmt.Sprintf("[run] Preview available at %s\n", previewURL))
	if err := d.runs.SetRunStatus(ctx, runID, domain.RunRunning, previewURL, ""); err != nil {
		return "", fmt.Errorf("recording preview url: %w", err)
	}
	return previewURL, nil
}

// waitForOpenPort probes the detected port plus the fallback candidates until
// one accepts a TCP connection or two minutes pass.
func (d *DevServer) waitForOpenPort(ctx context.Context, session sandbox.Session, detected func() int) int {
	deadline := time.Now().Add(2 * time.Minute)

	for time.Now().Before(deadline) {
		candidates := []int{devServerRequestedPort}
		if port := detected(); port != 0 {
			candidates = []int{port, devServerRequestedPort}
		}
		candidates = append(candidates, devServerCandidatePorts...)

		seen := map[int]bool{}
		for _, port := range candidates {
			if seen[port] {
				continue
			}
			seen[port] = true

			probe := fmt.Sprintf(`bash -lc 'timeout 1 bash -c "</dev/tcp/127.0.0.1/%d"'`, port)
			if err := session.RunCommand(ctx, probe, sandbox.RunOptions{}); err == nil {
				return port
			}
		}

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(1500 * time.Millisecond):
		}
	}
	return 0
}

// Stop kills the sandbox session behind a run and marks the run off.
func (d *DevServer) Stop(ctx context.Context, provider sandbox.Provider, runID string) error {
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("looking up run: %w", err)
	}

	if run.SandboxID != "" {
		session, err := provider.Connect(ctx, run.SandboxID)
		if err != nil {
			slog.Info("Sandbox already gone", "runID", runID, "sandboxID", run.SandboxID, "error", err)
		} else if err := session.Kill(ctx); err != nil {
			return fmt.Errorf("killing sandbox: %w", err)
		}
	}

	if err := d.runs.SetRunStatus(ctx, runID, domain.RunOff, "", ""); err != nil {
		return fmt.Errorf("marking run off: %w", err)
	}
	return nil
}
