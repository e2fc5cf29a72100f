package agent

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/bloomlabs/bloom/pkg/domain"
)

// Fence patterns tried in order, loosest-tagged first; the last one grabs a
// bare top-level object when the model skipped the fence entirely.
var payloadPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)```(?:json[ \\t]*)?\\n?(.*?)\\n?```"),
	regexp.MustCompile("(?is)```json[ \\t]*\\n(.*?)\\n```"),
	regexp.MustCompile("(?is)```[ \\t]*\\n(.*?)\\n```"),
	regexp.MustCompile(`(?s)(\{.*\})`),
}

type rawPlan struct {
	Thoughts string      `json:"thoughts"`
	Actions  []rawAction `json:"actions"`
}

type rawAction struct {
	Type       string   `json:"type"`
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	Command    string   `json:"command"`
	Background bool     `json:"background"`
	Recursive  bool     `json:"recursive"`
	Depth      int      `json:"depth"`
	Pkg        string   `json:"pkg"`
	Packages   []string `json:"packages"`
	Dev        bool     `json:"dev"`
}

// ExtractPlanPayload pulls the structured plan out of a model response. The
// response is prose with a fenced JSON block somewhere inside it, frequently
// malformed or cut off mid-string; a chain of progressively more aggressive
// repairs is tried before giving up. Returns nil when no plan can be
// recovered.
func ExtractPlanPayload(text string) *domain.Plan {
	var raw string
	for _, pattern := range payloadPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			raw = strings.TrimSpace(m[1])
			break
		}
	}
	if raw == "" {
		slog.Warn("No JSON payload found in model response", "length", len(text))
		return nil
	}

	candidate := repairTruncated(raw)
	// `\'` is not a legal JSON escape but models emit it around contractions.
	candidate = strings.ReplaceAll(candidate, `\'`, `'`)

	if plan := parsePlan(candidate); plan != nil {
		return plan
	}

	// Raw newlines and tabs inside string values break strict parsing.
	escaped := strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(raw)
	if plan := parsePlan(escaped); plan != nil {
		slog.Info("Plan payload recovered after control-character escaping")
		return plan
	}

	if repaired, err := jsonrepair.JSONRepair(raw); err == nil {
		if plan := parsePlan(repaired); plan != nil {
			slog.Info("Plan payload recovered via jsonrepair")
			return plan
		}
	}

	slog.Warn("Failed to extract plan payload", "length", len(raw))
	return nil
}

// repairTruncated patches a payload that was cut off by the token budget:
// balances braces and closes a dangling string value.
func repairTruncated(content string) string {
	if strings.HasSuffix(content, "}") {
		return content
	}

	lastQuote := strings.LastIndex(content, `"`)
	lastColon := strings.LastIndex(content, ":")
	if lastColon > lastQuote && !strings.HasSuffix(strings.TrimSpace(content), `"`) {
		content += `"`
	}

	open := strings.Count(content, "{")
	closed := strings.Count(content, "}")
	if open > closed {
		content += "\n" + strings.Repeat("}", open-closed)
	}
	return content
}

func parsePlan(candidate string) *domain.Plan {
	var raw rawPlan
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil
	}
	return &domain.Plan{
		Thoughts: raw.Thoughts,
		Actions:  sanitizeActions(raw.Actions),
	}
}

// sanitizeActions keeps only recognized action kinds and copies just the
// typed fields, dropping anything else the model invented.
func sanitizeActions(raws []rawAction) []domain.Action {
	actions := make([]domain.Action, 0, len(raws))
	for _, r := range raws {
		kind := domain.ActionType(r.Type)
		switch kind {
		case domain.ActionWriteFile, domain.ActionReadFile, domain.ActionListDir,
			domain.ActionRun, domain.ActionInstallPackage, domain.ActionRemoveFile:
		default:
			continue
		}
		actions = append(actions, domain.Action{
			Type:       kind,
			Path:       r.Path,
			Content:    r.Content,
			Command:    r.Command,
			Background: r.Background,
			Recursive:  r.Recursive,
			Depth:      r.Depth,
			Pkg:        r.Pkg,
			Packages:   r.Packages,
			Dev:        r.Dev,
			Status:     domain.ActionPending,
		})
	}
	return actions
}
