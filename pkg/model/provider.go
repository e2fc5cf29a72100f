package model

import (
	"context"

	"github.com/bloomlabs/bloom/pkg/domain"
)

// Message is one role-tagged entry in the model's conversation context.
type Message struct {
	Role    domain.Role
	Content string
}

// Request carries one completion call's inputs.
type Request struct {
	// System is the system prompt, may be empty.
	System string
	// Messages is the ordered conversation history, ending with the current
	// user message.
	Messages []Message
	// MaxTokens bounds the output. Zero lets the provider pick its default.
	MaxTokens int
	// Temperature, when non-nil, overrides the provider default.
	Temperature *float32
}

// Result is the accumulated text of one completion.
type Result struct {
	Text string
	// Truncated is true when the model stopped because it hit the output
	// token budget rather than a natural stop.
	Truncated bool
}

// Provider represents a chat-completion service.
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// Complete performs one blocking completion call.
	Complete(ctx context.Context, req Request) (*Result, error)

	// Stream performs a streaming completion, accumulating deltas into the
	// returned result. Implementations return an error rather than a partial
	// result if the stream breaks.
	Stream(ctx context.Context, req Request) (*Result, error)
}
