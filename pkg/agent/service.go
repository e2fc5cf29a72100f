package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/model"
	"github.com/bloomlabs/bloom/pkg/store"
)

// Service orchestrates one assistant turn end to end: acquire a sandbox,
// plan, execute, summarize.
type Service struct {
	chats    store.ChatStore
	messages store.MessageStore
	runs     store.RunStore
	provider model.Provider

	sessions  *SessionManager
	planner   *Planner
	generator *Generator
	executor  *Executor
	cfg       Config
}

// NewService wires the assistant core together.
func NewService(chats store.ChatStore, messages store.MessageStore, runs store.RunStore, provider model.Provider, sessions *SessionManager, cfg Config) *Service {
	return &Service{
		chats:     chats,
		messages:  messages,
		runs:      runs,
		provider:  provider,
		sessions:  sessions,
		planner:   NewPlanner(provider, cfg),
		generator: NewGenerator(provider, cfg),
		executor:  NewExecutor(cfg),
		cfg:       cfg,
	}
}

// TurnRequest is one user turn to process.
type TurnRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	// AlreadyLogged skips persisting the user message, for callers that
	// stored it before invoking the assistant.
	AlreadyLogged bool `json:"alreadyLogged,omitempty"`
}

// Validate checks the request's required fields.
func (r TurnRequest) Validate() error {
	if r.ChatID == "" || strings.TrimSpace(r.Message) == "" {
		return errors.New("missing chatId or message")
	}
	return nil
}

// HandleTurn runs the full assistant loop for one user message. Transcript
// progress (plan, action status, summary) is persisted as it happens so
// observers can follow along; the returned error reflects why the turn
// stopped early.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.chats.GetChat(ctx, req.ChatID); err != nil {
		return fmt.Errorf("looking up chat: %w", err)
	}

	if !req.AlreadyLogged {
		if err := s.addMessage(ctx, req.ChatID, domain.RoleUser, domain.MessageTypeStandard, req.Message); err != nil {
			return fmt.Errorf("logging user message: %w", err)
		}
	}

	sr, err := s.sessions.EnsureRun(ctx, req.ChatID)
	if err != nil {
		return err
	}
	log := NewLogWriter(s.runs, sr.RunID, s.cfg.LogFlushInterval)
	defer func() {
		if err := log.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Final log flush failed", "runID", sr.RunID, "error", err)
		}
	}()

	if err := s.sessions.WaitReady(ctx, sr.RunID); err != nil {
		reason := errText(err)
		if serr := s.runs.SetRunStatus(ctx, sr.RunID, domain.RunFailed, "", reason); serr != nil {
			slog.Warn("Failed to mark run failed", "runID", sr.RunID, "error", serr)
		}
		return fmt.Errorf("sandbox not ready: %w", err)
	}

	snapshot := s.sessions.Snapshot(ctx, sr.Session, log)

	actions, err := s.plan(ctx, req, snapshot)
	if err != nil {
		return err
	}

	return s.executeActions(ctx, req, sr, log, snapshot, actions)
}

// plan asks the model for an action plan, posts the plan message, and returns
// the capped action list.
func (s *Service) plan(ctx context.Context, req TurnRequest, snapshot string) ([]domain.Action, error) {
	history, err := s.messages.ListByChat(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	var modelHistory []model.Message
	for _, msg := range history {
		if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		modelHistory = append(modelHistory, model.Message{Role: msg.Role, Content: msg.Content})
	}

	text, err := s.planner.GeneratePlan(ctx, req.Message, snapshot, modelHistory)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	payload := ExtractPlanPayload(text)
	if payload == nil || len(payload.Actions) == 0 {
		return nil, errors.New("planning produced no executable actions")
	}

	if err := s.addMessage(ctx, req.ChatID, domain.RoleAssistant, domain.MessageTypePlan, formatPlanForDisplay(payload)); err != nil {
		return nil, fmt.Errorf("posting plan: %w", err)
	}

	actions := payload.Actions
	if len(actions) > s.cfg.MaxActions {
		slog.Info("Plan exceeds action cap, truncating", "chatID", req.ChatID, "planned", len(actions), "cap", s.cfg.MaxActions)
		actions = actions[:s.cfg.MaxActions]
	}
	return actions, nil
}

// executeActions walks the plan in order, mutating a single action_status
// transcript message as each step progresses, then posts the closing summary.
func (s *Service) executeActions(ctx context.Context, req TurnRequest, sr *SessionRun, log *LogWriter, snapshot string, actions []domain.Action) error {
	tracked := make([]domain.Action, len(actions))
	copy(tracked, actions)
	for i := range tracked {
		tracked[i].Status = domain.ActionPending
	}

	ec := &ExecContext{
		Session:   sr.Session,
		Log:       log,
		ReadFiles: map[string]string{},
	}
	createdFiles := map[string]string{}
	var history []HistoryEntry

	statusMessageID := ""
	postStatus := func(thoughts string) {
		visible := make([]domain.Action, len(tracked))
		for i, a := range tracked {
			visible[i] = a.Redacted()
		}
		if thoughts = strings.TrimSpace(thoughts); thoughts == "" {
			thoughts = "Executing actions..."
		}

		if statusMessageID != "" {
			if err := s.messages.UpdateMessage(ctx, statusMessageID, "", thoughts, visible); err != nil {
				slog.Warn("Failed to update status message", "messageID", statusMessageID, "error", err)
			}
			return
		}
		msg := &domain.Message{
			ID:       uuid.New().String(),
			ChatID:   req.ChatID,
			Role:     domain.RoleSystem,
			Type:     domain.MessageTypeActionStatus,
			Thoughts: thoughts,
			Actions:  visible,
		}
		if err := s.messages.AddMessage(ctx, msg); err != nil {
			slog.Warn("Failed to post status message", "chatID", req.ChatID, "error", err)
			return
		}
		statusMessageID = msg.ID
	}

	postStatus(fmt.Sprintf("Analyzing your request: %q\n\nI'll execute %d action(s) to fulfill this request. Let me work through them step by step.", req.Message, len(tracked)))

	runTurn := func() error {
		for i := range tracked {
			action := &tracked[i]
			stepLabel := fmt.Sprintf("Step %d/%d · %s", i+1, len(tracked), DescribeAction(*action))

			log.Push(fmt.Sprintf("\n[assistant] %s\n", stepLabel))
			if err := log.Flush(ctx); err != nil {
				slog.Warn("Log flush failed", "runID", sr.RunID, "error", err)
			}

			action.Status = domain.ActionInProgress
			postStatus("Currently working on: " + DescribeAction(*action) + ".")

			if action.Type == domain.ActionWriteFile && action.Content == "" && action.Path != "" {
				log.Push(fmt.Sprintf("[assistant] Generating code for %s...\n", action.Path))
				content, err := s.generator.GenerateFileContent(ctx, CodegenContext{
					FilePath:     action.Path,
					UserRequest:  req.Message,
					ReadFiles:    ec.ReadFiles,
					CreatedFiles: createdFiles,
					History:      history,
					Snapshot:     snapshot,
				})
				if err != nil {
					log.Push(fmt.Sprintf("[assistant] Failed to generate code: %s\n", errText(err)))
				} else {
					action.Content = content
					log.Push(fmt.Sprintf("[assistant] Generated %d characters for %s\n", len(content), action.Path))
				}
			}

			result := s.executor.Execute(ctx, *action, ec)
			if err := log.Flush(ctx); err != nil {
				slog.Warn("Log flush failed", "runID", sr.RunID, "error", err)
			}

			if action.Type == domain.ActionWriteFile && result.Success && action.Path != "" && action.Content != "" {
				createdFiles[action.Path] = action.Content
			}

			history = append(history, HistoryEntry{
				Action:    *action,
				Result:    result,
				Success:   result.Success,
				StepLabel: stepLabel,
			})

			if result.Success {
				action.Status = domain.ActionCompleted
				postStatus(fmt.Sprintf("Completed: %s\n\nProgress: %d/%d actions successful.", DescribeAction(*action), successCount(history), len(tracked)))
				continue
			}

			action.Status = domain.ActionFailed
			failure := result.Error
			if failure == "" {
				failure = "Action failed"
			}
			log.Push(fmt.Sprintf("\n[assistant] Failed: %s\n", failure))
			postStatus(fmt.Sprintf("Failed: %s\n\nError: %s\n\nContinuing with remaining actions...", DescribeAction(*action), failure))

			if IsCritical(*action) {
				return errors.New(failure)
			}
		}
		return nil
	}

	if err := runTurn(); err != nil {
		if serr := s.runs.SetRunStatus(ctx, sr.RunID, domain.RunFailed, "", errText(err)); serr != nil {
			slog.Warn("Failed to mark run failed", "runID", sr.RunID, "error", serr)
		}
		return err
	}

	postStatus("All actions completed.")

	summary := s.generateSummary(ctx, req.Message, history)
	if err := s.addMessage(ctx, req.ChatID, domain.RoleAssistant, domain.MessageTypeSummary, summary); err != nil {
		return fmt.Errorf("posting summary: %w", err)
	}
	return nil
}

func successCount(history []HistoryEntry) int {
	n := 0
	for _, h := range history {
		if h.Success {
			n++
		}
	}
	return n
}

func (s *Service) addMessage(ctx context.Context, chatID string, role domain.Role, typ domain.MessageType, content string) error {
	return s.messages.AddMessage(ctx, &domain.Message{
		ID:      uuid.New().String(),
		ChatID:  chatID,
		Role:    role,
		Type:    typ,
		Content: content,
	})
}

// formatPlanForDisplay renders the plan's thoughts plus a numbered step list.
func formatPlanForDisplay(plan *domain.Plan) string {
	thoughts := plan.Thoughts
	if thoughts == "" {
		thoughts = "Let me work on your request..."
	}

	var b strings.Builder
	b.WriteString(thoughts)
	b.WriteString("\n\n**Implementation Steps:**\n")
	for i, action := range plan.Actions {
		var desc string
		switch action.Type {
		case domain.ActionReadFile:
			desc = "Read " + action.Path
		case domain.ActionWriteFile:
			desc = "Create/update " + action.Path
		case domain.ActionRun:
			desc = "Execute: " + action.Command
		case domain.ActionListDir:
			target := action.Path
			if target == "" {
				target = "directory"
			}
			desc = "Explore " + target
		case domain.ActionInstallPackage:
			name := action.Pkg
			if name == "" {
				name = strings.Join(action.Packages, ", ")
			}
			desc = "Install " + name
		case domain.ActionRemoveFile:
			desc = "Remove " + action.Path
		default:
			desc = string(action.Type)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, desc)
	}
	return strings.TrimSpace(b.String())
}

var fencedJSONRe = regexp.MustCompile("(?s)```json.*?```")

// generateSummary produces the closing transcript message: a short model
// narrative followed by a deterministic technical recap. The recap alone is
// used when the narrative call fails.
func (s *Service) generateSummary(ctx context.Context, request string, history []HistoryEntry) string {
	recap := formatTechnicalRecap(history)

	narrative, err := s.narrativeSummary(ctx, request, history)
	if err != nil || narrative == "" {
		if err != nil {
			slog.Warn("Narrative summary failed, using recap only", "error", err)
		}
		return "Implementation complete! Your app is ready.\n\n" + recap
	}
	return narrative + "\n\n" + recap
}

func (s *Service) narrativeSummary(ctx context.Context, request string, history []HistoryEntry) (string, error) {
	var successful, failed []string
	for _, h := range history {
		if h.Success {
			successful = append(successful, fmt.Sprintf("- %s: %s", h.StepLabel, firstLine(h.Result.Message)))
		} else {
			failed = append(failed, fmt.Sprintf("- %s: %s", h.StepLabel, h.Result.Error))
		}
	}

	prompt := strings.Join([]string{
		"You just completed a development task. Generate a brief, natural summary of what you accomplished.",
		"",
		fmt.Sprintf("Original request: %q", request),
		"",
		fmt.Sprintf("Successful actions (%d):", len(successful)),
		strings.Join(successful, "\n"),
		"",
		fmt.Sprintf("Failed actions (%d):", len(failed)),
		strings.Join(failed, "\n"),
		"",
		"Write a conversational summary focused on the end result and key features, not the technical steps.",
		"Be concise (2-3 sentences max). Respond with plain text only, no JSON.",
	}, "\n")

	result, err := s.provider.Complete(ctx, model.Request{
		Messages:  []model.Message{{Role: domain.RoleUser, Content: prompt}},
		MaxTokens: s.cfg.PlanMaxTokens,
	})
	if err != nil {
		return "", err
	}
	// Strip any JSON block the model added out of habit.
	return strings.TrimSpace(fencedJSONRe.ReplaceAllString(result.Text, "")), nil
}

func formatTechnicalRecap(history []HistoryEntry) string {
	collect := func(kind domain.ActionType, field func(domain.Action) string) []string {
		var out []string
		for _, h := range history {
			if h.Success && h.Action.Type == kind {
				if v := field(h.Action); v != "" {
					out = append(out, v)
				}
			}
		}
		return out
	}
	pathOf := func(a domain.Action) string { return a.Path }

	filesRead := collect(domain.ActionReadFile, pathOf)
	filesWritten := collect(domain.ActionWriteFile, pathOf)
	commandsRun := collect(domain.ActionRun, func(a domain.Action) string { return a.Command })
	packages := collect(domain.ActionInstallPackage, func(a domain.Action) string {
		if a.Pkg != "" {
			return a.Pkg
		}
		return strings.Join(a.Packages, ", ")
	})
	dirsListed := collect(domain.ActionListDir, pathOf)
	filesRemoved := collect(domain.ActionRemoveFile, pathOf)

	var failed []string
	for _, h := range history {
		if !h.Success {
			failed = append(failed, h.StepLabel)
		}
	}

	parts := []string{
		"## Session Summary",
		"",
		fmt.Sprintf("**Actions completed:** %d/%d", successCount(history), len(history)),
	}
	appendList := func(label string, items []string) {
		if len(items) > 0 {
			parts = append(parts, fmt.Sprintf("**%s:** %s", label, strings.Join(items, ", ")))
		}
	}
	appendList("Files analyzed", filesRead)
	appendList("Files created/modified", filesWritten)
	appendList("Packages installed", packages)
	appendList("Commands executed", commandsRun)
	appendList("Directories explored", dirsListed)
	appendList("Files removed", filesRemoved)
	appendList("Failed actions", failed)

	return strings.Join(parts, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
