package store

import (
	"context"

	"github.com/bloomlabs/bloom/pkg/domain"
)

// ChatStore manages the persistence of chats.
type ChatStore interface {
	// CreateChat persists a new chat. The ID field must be set by the caller.
	CreateChat(ctx context.Context, chat *domain.Chat) error

	// GetChat retrieves a chat by its unique ID.
	// Returns an error if the chat does not exist.
	GetChat(ctx context.Context, id string) (*domain.Chat, error)

	// ListChats returns all chats, ordered by creation time descending.
	ListChats(ctx context.Context) ([]domain.Chat, error)
}

// MessageStore manages the chat transcript. Most entries are append-only; the
// per-turn action status message is the one entry mutated in place.
type MessageStore interface {
	// AddMessage appends a message to a chat's transcript and updates the
	// chat's denormalized last-message preview. The ID field must be set by
	// the caller.
	AddMessage(ctx context.Context, msg *domain.Message) error

	// UpdateMessage rewrites the content, thoughts, and actions of an
	// existing message by ID.
	UpdateMessage(ctx context.Context, id string, content, thoughts string, actions []domain.Action) error

	// ListByChat returns a chat's messages ordered by creation time ascending.
	ListByChat(ctx context.Context, chatID string) ([]domain.Message, error)

	// Subscribe returns a channel that emits chat IDs whenever a message is
	// added or updated. Used by the websocket handler to push transcript
	// updates to observers.
	Subscribe() <-chan string
}

// RunStore manages sandbox run records and their accumulated logs.
type RunStore interface {
	// CreateRun persists a new run with status "ready". The ID field must be
	// set by the caller.
	CreateRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRunsByChat returns a chat's runs ordered by creation time descending.
	ListRunsByChat(ctx context.Context, chatID string) ([]domain.Run, error)

	// SetRunStatus updates a run's status and, when non-empty, its preview URL
	// and error text.
	SetRunStatus(ctx context.Context, id string, status domain.RunStatus, previewURL, errText string) error

	// AppendRunLogs concatenates a chunk onto the run's log text.
	AppendRunLogs(ctx context.Context, id string, chunk string) error
}
