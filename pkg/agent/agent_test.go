package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/model"
)

// memStore is an in-memory ChatStore/MessageStore/RunStore for tests.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]domain.Chat
	messages map[string]domain.Message
	runs     map[string]domain.Run
	seq      int
	subs     []chan string
}

func newMemStore() *memStore {
	return &memStore{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string]domain.Message),
		runs:     make(map[string]domain.Run),
	}
}

func (s *memStore) CreateChat(_ context.Context, chat *domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat.CreatedAt = time.Now()
	s.chats[chat.ID] = *chat
	return nil
}

func (s *memStore) GetChat(_ context.Context, id string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat not found: %s", id)
	}
	return &chat, nil
}

func (s *memStore) ListChats(_ context.Context) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chat
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) AddMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	s.seq++
	msg.CreatedAt = time.Unix(int64(s.seq), 0)
	s.messages[msg.ID] = *msg
	s.mu.Unlock()
	s.notify(msg.ChatID)
	return nil
}

func (s *memStore) UpdateMessage(_ context.Context, id string, content, thoughts string, actions []domain.Action) error {
	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message not found: %s", id)
	}
	msg.Content = content
	msg.Thoughts = thoughts
	msg.Actions = actions
	s.messages[id] = msg
	chatID := msg.ChatID
	s.mu.Unlock()
	s.notify(chatID)
	return nil
}

func (s *memStore) ListByChat(_ context.Context, chatID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) Subscribe() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan string, 64)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *memStore) notify(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- chatID:
		default:
		}
	}
}

func (s *memStore) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = *run
	return nil
}

func (s *memStore) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return &run, nil
}

func (s *memStore) ListRunsByChat(_ context.Context, chatID string) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, r := range s.runs {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SetRunStatus(_ context.Context, id string, status domain.RunStatus, previewURL, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status = status
	if previewURL != "" {
		run.PreviewURL = previewURL
	}
	if errText != "" {
		run.Error = errText
	}
	run.UpdatedAt = time.Now()
	s.runs[id] = run
	return nil
}

func (s *memStore) AppendRunLogs(_ context.Context, id string, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Logs += chunk
	s.runs[id] = run
	return nil
}

func (s *memStore) runLogs(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Logs
}

// fakeProvider returns scripted completions in order. When the script is
// exhausted the last entry repeats.
type fakeProvider struct {
	mu       sync.Mutex
	replies  []model.Result
	requests []model.Request
	err      error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(_ context.Context, req model.Request) (*model.Result, error) {
	return p.next(req)
}

func (p *fakeProvider) Stream(_ context.Context, req model.Request) (*model.Result, error) {
	return p.next(req)
}

func (p *fakeProvider) next(req model.Request) (*model.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &model.Result{Text: ""}, nil
	}
	result := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return &result, nil
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = 2 * time.Second
	cfg.ReadyPoll = 10 * time.Millisecond
	cfg.LogFlushInterval = 5 * time.Millisecond
	return cfg
}

func planResponse(thoughts string, actions ...string) string {
	return "Here is my plan.\n\n```json\n{\n  \"thoughts\": \"" + thoughts + "\",\n  \"actions\": [" + strings.Join(actions, ", ") + "]\n}\n```"
}
