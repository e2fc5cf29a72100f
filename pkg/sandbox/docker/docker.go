package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/bloomlabs/bloom/pkg/sandbox"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "bloom"
	// DevServerPort is the port the in-sandbox dev server listens on.
	DevServerPort = "8081"
	// DefaultIdleTimeout destroys a session that has seen no activity.
	DefaultIdleTimeout = 15 * time.Minute
)

// Provider implements sandbox.Provider using Docker containers. Each session
// is one container; commands run through the exec API and files move through
// the archive API.
type Provider struct {
	client *client.Client
}

// Verify interface compliance.
var _ sandbox.Provider = (*Provider)(nil)

// New creates a new Docker sandbox provider.
func New() (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Provider{client: cli}, nil
}

// Close releases the Docker client resources.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Create provisions a new container from the given image template.
func (p *Provider) Create(ctx context.Context, template string) (sandbox.Session, error) {
	if _, _, err := p.client.ImageInspectWithRaw(ctx, template); err != nil {
		return nil, fmt.Errorf("sandbox image %q not found: %w", template, err)
	}

	cfg := &container.Config{
		Image: template,
		Labels: map[string]string{
			LabelManager: LabelManagerValue,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(DevServerPort + "/tcp"): {},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(DevServerPort + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0", // Dynamically assigned port.
				},
			},
		},
	}

	name := "bloom-sandbox-" + uuid.New().String()[:8]
	resp, err := p.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	slog.Info("Sandbox created", "containerID", resp.ID[:12], "image", template)
	return p.newSession(resp.ID), nil
}

// Connect attaches to an existing container by ID. Fails unless the container
// still exists and is running.
func (p *Provider) Connect(ctx context.Context, sessionID string) (sandbox.Session, error) {
	c, err := p.client.ContainerInspect(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("container not found: %w", err)
	}
	if !c.State.Running {
		return nil, fmt.Errorf("container exists but not running (state: %s)", c.State.Status)
	}
	return p.newSession(c.ID), nil
}

func (p *Provider) newSession(containerID string) *session {
	s := &session{
		client:      p.client,
		containerID: containerID,
	}
	s.resetIdleTimer(DefaultIdleTimeout)
	return s
}

// session is one live container handle.
type session struct {
	client      *client.Client
	containerID string

	mu        sync.Mutex
	idleTimer *time.Timer
}

var _ sandbox.Session = (*session)(nil)

func (s *session) ID() string { return s.containerID }

func (s *session) RunCommand(ctx context.Context, command string, opts sandbox.RunOptions) error {
	s.touch()

	if opts.Timeout > 0 && !opts.Background {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execResp, err := s.client.ContainerExecCreate(ctx, s.containerID, types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("creating exec: %w", err)
	}

	attach, err := s.client.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("attaching exec: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer attach.Close()
		// Docker multiplexes stdout/stderr over one stream.
		_, err := stdcopy.StdCopy(
			callbackWriter{opts.OnStdout},
			callbackWriter{opts.OnStderr},
			attach.Reader,
		)
		done <- err
	}()

	if opts.Background {
		// Output keeps flowing to the callbacks; the caller does not wait.
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && err != io.EOF {
			return fmt.Errorf("streaming exec output: %w", err)
		}
	}

	inspect, err := s.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return fmt.Errorf("inspecting exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("command exited with code %d", inspect.ExitCode)
	}
	return nil
}

func (s *session) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	s.touch()

	rc, _, err := s.client.CopyFromContainer(ctx, s.containerID, filePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive for %s: %w", filePath, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("no file at %s", filePath)
}

func (s *session) WriteFile(ctx context.Context, filePath string, content []byte) error {
	s.touch()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: path.Base(filePath),
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing archive body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}

	dir := path.Dir(filePath)
	if err := s.client.CopyToContainer(ctx, s.containerID, dir, &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("writing %s: %w", filePath, err)
	}
	return nil
}

func (s *session) RemoveFile(ctx context.Context, filePath string) error {
	// rm -rf handles both files and directory trees; quoting guards spaces.
	quoted := "'" + strings.ReplaceAll(filePath, "'", `'\''`) + "'"
	return s.RunCommand(ctx, "rm -rf "+quoted, sandbox.RunOptions{})
}

func (s *session) SetTimeout(d time.Duration) error {
	s.resetIdleTimer(d)
	return nil
}

func (s *session) Host(port int) (string, error) {
	c, err := s.client.ContainerInspect(context.Background(), s.containerID)
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	ports := c.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", port))]
	if len(ports) == 0 {
		return "", fmt.Errorf("port %d not mapped", port)
	}
	return ports[0].HostIP + ":" + ports[0].HostPort, nil
}

func (s *session) Kill(ctx context.Context) error {
	s.mu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	timeout := 10
	if err := s.client.ContainerStop(ctx, s.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("Failed to stop container", "id", s.containerID[:12], "error", err)
	}
	if err := s.client.ContainerRemove(ctx, s.containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// touch resets the idle timer to its current duration on any activity.
func (s *session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(DefaultIdleTimeout)
	}
}

func (s *session) resetIdleTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, func() {
		slog.Info("Sandbox idle timeout, destroying", "containerID", s.containerID[:12])
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Kill(ctx); err != nil {
			slog.Warn("Idle cleanup failed", "containerID", s.containerID[:12], "error", err)
		}
	})
}

// callbackWriter adapts a chunk callback to io.Writer for stdcopy demuxing.
type callbackWriter struct {
	fn func(string)
}

func (w callbackWriter) Write(p []byte) (int, error) {
	if w.fn != nil {
		w.fn(string(p))
	}
	return len(p), nil
}
