// Package sandboxtest provides a deterministic in-memory sandbox
// implementation for tests: a file map instead of a container filesystem and
// scripted command output instead of a shell.
package sandboxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bloomlabs/bloom/pkg/sandbox"
)

// Session implements sandbox.Session against an in-memory file map.
type Session struct {
	SessionID string

	mu       sync.Mutex
	files    map[string][]byte
	commands []string
	replies  []reply
	killed   bool

	// CommandErr, when set, is returned by every RunCommand call.
	CommandErr error
}

type reply struct {
	substr string
	stdout string
}

var _ sandbox.Session = (*Session)(nil)

// NewSession returns an empty fake session.
func NewSession(id string) *Session {
	return &Session{
		SessionID: id,
		files:     make(map[string][]byte),
	}
}

// RespondWith makes RunCommand emit stdout for any command containing substr.
// Replies are matched in registration order; the first match wins.
func (s *Session) RespondWith(substr, stdout string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{substr: substr, stdout: stdout})
}

// Commands returns every command executed so far, in order.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// SetFile seeds the in-memory filesystem.
func (s *Session) SetFile(path string, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = []byte(content)
}

// File returns a file's content and whether it exists.
func (s *Session) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return string(b), ok
}

// Killed reports whether Kill was called.
func (s *Session) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Session) ID() string { return s.SessionID }

func (s *Session) RunCommand(_ context.Context, command string, opts sandbox.RunOptions) error {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	if s.killed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is dead", s.SessionID)
	}
	if s.CommandErr != nil {
		err := s.CommandErr
		s.mu.Unlock()
		return err
	}
	var out string
	for _, r := range s.replies {
		if strings.Contains(command, r.substr) {
			out = r.stdout
			break
		}
	}
	s.mu.Unlock()

	if out != "" && opts.OnStdout != nil {
		opts.OnStdout(out)
	}
	return nil
}

func (s *Session) ReadFile(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("no file at %s", path)
	}
	return append([]byte(nil), b...), nil
}

func (s *Session) WriteFile(_ context.Context, path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return fmt.Errorf("session %s is dead", s.SessionID)
	}
	s.files[path] = append([]byte(nil), content...)
	return nil
}

func (s *Session) RemoveFile(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return fmt.Errorf("no file at %s", path)
	}
	delete(s.files, path)
	return nil
}

func (s *Session) SetTimeout(time.Duration) error { return nil }

func (s *Session) Host(port int) (string, error) {
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}

func (s *Session) Kill(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	return nil
}

// Provider implements sandbox.Provider over a fixed set of fake sessions.
type Provider struct {
	mu       sync.Mutex
	sessions map[string]*Session
	created  int

	// ConnectErr, when set, fails every Connect call (simulates a sandbox
	// that no longer answers).
	ConnectErr error
	// CreateErr, when set, fails every Create call.
	CreateErr error
}

var _ sandbox.Provider = (*Provider)(nil)

// NewProvider returns a provider with no live sessions.
func NewProvider() *Provider {
	return &Provider{sessions: make(map[string]*Session)}
}

// Add registers an existing session for Connect to find.
func (p *Provider) Add(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.SessionID] = s
}

// CreatedCount reports how many sessions Create has provisioned.
func (p *Provider) CreatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Provider) Create(_ context.Context, template string) (sandbox.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.created++
	s := NewSession(fmt.Sprintf("%s-%d", template, p.created))
	p.sessions[s.SessionID] = s
	return s, nil
}

func (p *Provider) Connect(_ context.Context, sessionID string) (sandbox.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s, ok := p.sessions[sessionID]
	if !ok || s.Killed() {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return s, nil
}
