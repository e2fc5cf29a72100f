package sandbox

import (
	"context"
	"time"
)

// RunOptions controls a streamed command execution inside a session.
type RunOptions struct {
	// Background starts the command and returns without waiting for it to
	// finish. Output that arrives after return keeps flowing to the callbacks.
	Background bool
	// Timeout bounds the command's execution. Zero means no bound.
	Timeout time.Duration
	// OnStdout receives stdout chunks as they arrive. May be nil.
	OnStdout func(chunk string)
	// OnStderr receives stderr chunks as they arrive. May be nil.
	OnStderr func(chunk string)
}

// Session is a handle to one live sandbox. All paths are absolute inside the
// sandbox filesystem.
type Session interface {
	// ID returns the provider-assigned session identifier, stable across
	// reconnects.
	ID() string

	// RunCommand executes a shell invocation, streaming output through the
	// option callbacks. For background commands it returns once the process
	// has started.
	RunCommand(ctx context.Context, command string, opts RunOptions) error

	// ReadFile returns the raw contents of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the contents of a file, creating it if needed. The
	// parent directory must already exist.
	WriteFile(ctx context.Context, path string, content []byte) error

	// RemoveFile deletes a file or directory tree.
	RemoveFile(ctx context.Context, path string) error

	// SetTimeout resets the session's idle timeout. The session is destroyed
	// by the provider once the timeout elapses without activity.
	SetTimeout(d time.Duration) error

	// Host returns the externally reachable host for a port exposed by the
	// session, for building preview URLs.
	Host(port int) (string, error)

	// Kill destroys the session immediately.
	Kill(ctx context.Context) error
}

// Provider creates and reconnects sandbox sessions.
type Provider interface {
	// Create provisions a new session from the given template.
	Create(ctx context.Context, template string) (Session, error)

	// Connect attaches to an existing session by ID. Returns an error if the
	// session no longer answers.
	Connect(ctx context.Context, sessionID string) (Session, error)
}
