package domain

import "time"

// Chat is a conversation between a user and the assistant. Each chat owns at
// most one live sandbox run at a time.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is a single transcript entry.
type Message struct {
	ID       string      `json:"id"`
	ChatID   string      `json:"chat_id"`
	Role     Role        `json:"role"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content"`
	Thoughts string      `json:"thoughts,omitempty"`
	// Actions is the redacted projection rendered by action_status messages.
	// It never carries generated file content.
	Actions   []Action  `json:"actions,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one remote sandbox session's lifecycle and accumulated logs
// for a chat.
type Run struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SandboxID  string    `json:"sandbox_id"`
	Status     RunStatus `json:"status"`
	Logs       string    `json:"logs,omitempty"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Action is one discrete file/command operation directed by a plan. The Type
// field discriminates which of the other fields apply.
type Action struct {
	Type       ActionType   `json:"type"`
	Path       string       `json:"path,omitempty"`
	Content    string       `json:"content,omitempty"`
	Command    string       `json:"command,omitempty"`
	Background bool         `json:"background,omitempty"`
	Recursive  bool         `json:"recursive,omitempty"`
	Depth      int          `json:"depth,omitempty"`
	Pkg        string       `json:"pkg,omitempty"`
	Packages   []string     `json:"packages,omitempty"`
	Dev        bool         `json:"dev,omitempty"`
	Status     ActionStatus `json:"status,omitempty"`
}

// Redacted returns a copy of the action safe for transcript storage:
// everything except generated file content.
func (a Action) Redacted() Action {
	a.Content = ""
	return a
}

// Plan is the model-produced payload for a turn: free-form thoughts plus an
// ordered action list. Order is the execution order.
type Plan struct {
	Thoughts string   `json:"thoughts"`
	Actions  []Action `json:"actions"`
}

// ToolResult is the uniform contract every action executor returns. Message is
// human-readable; Data and Error are for programmatic consumers.
type ToolResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}
