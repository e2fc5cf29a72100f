package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/store"
)

// Store implements ChatStore, MessageStore, and RunStore using SQLite.
type Store struct {
	db          *sql.DB
	subscribers []chan string
	mu          sync.RWMutex
}

// Verify interface compliance at compile time.
var _ store.ChatStore = (*Store)(nil)
var _ store.MessageStore = (*Store)(nil)
var _ store.RunStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		last_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'standard',
		content TEXT NOT NULL DEFAULT '',
		thoughts TEXT NOT NULL DEFAULT '',
		actions TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		sandbox_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ready',
		logs TEXT NOT NULL DEFAULT '',
		preview_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_chat ON runs(chat_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ChatStore ---

func (s *Store) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, last_message, created_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.LastMessage, chat.CreatedAt,
	)
	return err
}

func (s *Store) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	chat := &domain.Chat{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, last_message, created_at FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &chat.Title, &chat.LastMessage, &chat.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat not found: %s", id)
	}
	return chat, err
}

func (s *Store) ListChats(ctx context.Context) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, last_message, created_at FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessage, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// --- MessageStore ---

func (s *Store) AddMessage(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	actionsJSON, err := marshalActions(msg.Actions)
	if err != nil {
		return err
	}

	// Get next sequence number.
	var maxSeq int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE chat_id=?`, msg.ChatID,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, type, content, thoughts, actions, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Type, msg.Content, msg.Thoughts, actionsJSON,
		msg.CreatedAt, maxSeq+1,
	)
	if err != nil {
		return err
	}

	// Keep the sidebar preview denormalized on the chat.
	preview := msg.Content
	if len(preview) > 200 {
		preview = preview[:200]
	}
	if preview != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chats SET last_message=? WHERE id=?`, preview, msg.ChatID); err != nil {
			return err
		}
	}

	s.notifySubscribers(msg.ChatID)
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, id string, content, thoughts string, actions []domain.Action) error {
	actionsJSON, err := marshalActions(actions)
	if err != nil {
		return err
	}

	var chatID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM messages WHERE id=?`, id,
	).Scan(&chatID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("message not found: %s", id)
		}
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content=?, thoughts=?, actions=? WHERE id=?`,
		content, thoughts, actionsJSON, id,
	)
	if err != nil {
		return err
	}

	s.notifySubscribers(chatID)
	return nil
}

func (s *Store) ListByChat(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, type, content, thoughts, actions, created_at
		 FROM messages WHERE chat_id=? ORDER BY seq ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var actionsJSON string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Type, &m.Content, &m.Thoughts, &actionsJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if actionsJSON != "" {
			if err := json.Unmarshal([]byte(actionsJSON), &m.Actions); err != nil {
				return nil, fmt.Errorf("decode actions for message %s: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) Subscribe() <-chan string {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notifySubscribers(chatID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- chatID:
		default:
			// Subscriber is slow; drop rather than block a write.
		}
	}
}

// --- RunStore ---

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = domain.RunReady
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, chat_id, sandbox_id, status, logs, preview_url, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ChatID, run.SandboxID, run.Status, run.Logs, run.PreviewURL, run.Error,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run := &domain.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, sandbox_id, status, logs, preview_url, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.ChatID, &run.SandboxID, &run.Status, &run.Logs,
		&run.PreviewURL, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, err
}

func (s *Store) ListRunsByChat(ctx context.Context, chatID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sandbox_id, status, logs, preview_url, error, created_at, updated_at
		 FROM runs WHERE chat_id=? ORDER BY created_at DESC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var r domain.Run
		if err := rows.Scan(&r.ID, &r.ChatID, &r.SandboxID, &r.Status, &r.Logs,
			&r.PreviewURL, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) SetRunStatus(ctx context.Context, id string, status domain.RunStatus, previewURL, errText string) error {
	query := `UPDATE runs SET status=?, updated_at=?`
	args := []any{status, time.Now().UTC()}
	if previewURL != "" {
		query += `, preview_url=?`
		args = append(args, previewURL)
	}
	if errText != "" {
		query += `, error=?`
		args = append(args, errText)
	}
	query += ` WHERE id=?`
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *Store) AppendRunLogs(ctx context.Context, id string, chunk string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET logs = logs || ?, updated_at=? WHERE id=?`,
		chunk, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

func marshalActions(actions []domain.Action) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	return string(b), nil
}
