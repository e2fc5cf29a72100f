package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/model"
)

// Planner asks the model for a structured action plan.
type Planner struct {
	provider model.Provider
	cfg      Config
}

// NewPlanner creates a Planner backed by the given model provider.
func NewPlanner(provider model.Provider, cfg Config) *Planner {
	return &Planner{provider: provider, cfg: cfg}
}

// GeneratePlan sends the system prompt, recent transcript history, and the
// user's message to the model and returns the raw response text. Streaming is
// tried first; any streaming failure falls back to a blocking completion.
func (p *Planner) GeneratePlan(ctx context.Context, message, snapshot string, history []model.Message) (string, error) {
	if len(history) > p.cfg.HistoryWindow {
		history = history[len(history)-p.cfg.HistoryWindow:]
	}
	messages := append(append([]model.Message{}, history...), model.Message{
		Role:    domain.RoleUser,
		Content: message,
	})

	req := model.Request{
		System:    BuildSystemPrompt(p.cfg.RootPath, p.cfg.MaxActions, snapshot),
		Messages:  messages,
		MaxTokens: p.cfg.PlanMaxTokens,
	}

	result, err := p.provider.Stream(ctx, req)
	if err == nil && result.Text != "" {
		return result.Text, nil
	}
	if err != nil {
		slog.Warn("Streaming plan failed, using blocking completion", "error", err)
	}

	result, err = p.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generating plan: %w", err)
	}
	return result.Text, nil
}

// BuildSystemPrompt assembles the planning instructions: the agent's role,
// the observe-reflect-act workflow, the action vocabulary, the fenced-JSON
// response contract, and the current project snapshot.
func BuildSystemPrompt(root string, maxActions int, snapshot string) string {
	return strings.Join([]string{
		"You are an expert mobile app development AI agent specialized in React Native and Expo.",
		"Project root: " + root,
		"",
		"## Context",
		"- This is an EXISTING Expo Router project; the app/ directory holds file-based routes",
		"- Basic setup already exists: package.json, app.json, tsconfig.json",
		"- You are EXTENDING an existing app, not creating one from scratch",
		"",
		"## Workflow: Observe-Reflect-Act",
		"1. OBSERVE only when necessary: read files for unknown codebases, skip for simple edits",
		"2. REFLECT: decide what to build and which files need creation or modification",
		"3. ACT: install packages if needed, write files, register new screens in app/_layout.tsx",
		"",
		"## Actions Available",
		"- `list_dir`: Explore project structure (optional 'recursive' and 'depth')",
		"- `read_file`: Read existing files",
		"- `write_file`: Create or update files (full content will be generated during execution)",
		"- `run`: Execute commands (npm, expo, etc.)",
		"- `install_package`: Install npm packages ('pkg' string or 'packages' array, optional 'dev')",
		"- `remove_file`: Delete files or directories",
		"",
		"## Response Format",
		"Respond with a brief explanation followed by exactly one JSON code block:",
		"- ALWAYS wrap the JSON in ```json and ``` tags",
		"- Include a 'thoughts' string and an 'actions' array",
		"- Use simple ASCII only; no unicode emojis inside JSON strings",
		"- Do NOT include 'content' in write_file actions; content is generated during execution",
		"",
		"## Constraints",
		fmt.Sprintf("- Maximum %d actions", maxActions),
		"- For simple tasks, jump directly to implementation; avoid unnecessary reads",
		"- Always rewrite files completely when modifying them",
		"- Never use scaffolding commands (create-expo-app, npm create, git clone)",
		"- NEVER run 'npx expo start' or other dev server commands (already running)",
		"- Use Stack navigation only; register every screen in app/_layout.tsx",
		"- app/index.tsx is the first screen users see; build features there first",
		"",
		"## Example Response",
		"```json",
		`{`,
		`  "thoughts": "Simple task to remove the header. No observation needed.",`,
		`  "actions": [`,
		`    { "type": "read_file", "path": "app/_layout.tsx" },`,
		`    { "type": "write_file", "path": "app/_layout.tsx" }`,
		`  ]`,
		`}`,
		"```",
		"",
		"## Current Project State",
		"```",
		strings.TrimSpace(snapshot),
		"```",
	}, "\n")
}
