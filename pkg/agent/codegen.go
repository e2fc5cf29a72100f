package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/model"
)

// HistoryEntry records one executed action and its outcome, feeding context
// into later code generation calls.
type HistoryEntry struct {
	Action    domain.Action
	Result    domain.ToolResult
	Success   bool
	StepLabel string
}

// CodegenContext captures everything a file generation call may draw on.
type CodegenContext struct {
	FilePath     string
	UserRequest  string
	ReadFiles    map[string]string
	CreatedFiles map[string]string
	History      []HistoryEntry
	Snapshot     string
}

// Generator produces complete file contents for write_file actions that came
// without content.
type Generator struct {
	provider model.Provider
	cfg      Config
}

// NewGenerator creates a Generator backed by the given model provider.
func NewGenerator(provider model.Provider, cfg Config) *Generator {
	return &Generator{provider: provider, cfg: cfg}
}

var codegenTemperature = float32(0.3)

// GenerateFileContent asks the model for the full content of one file. When
// the output is cut off by the token budget, continuation calls append to the
// accumulated fragment, bounded by CodegenMaxAttempts.
func (g *Generator) GenerateFileContent(ctx context.Context, cc CodegenContext) (string, error) {
	contextContent := buildContextContent(cc)

	var full strings.Builder
	for attempt := 1; attempt <= g.cfg.CodegenMaxAttempts; attempt++ {
		prompt := buildCodegenPrompt(cc.FilePath, cc.UserRequest, contextContent, full.String(), attempt > 1)

		result, err := g.provider.Complete(ctx, model.Request{
			Messages:    []model.Message{{Role: domain.RoleUser, Content: prompt}},
			MaxTokens:   g.cfg.CodegenMaxTokens,
			Temperature: &codegenTemperature,
		})
		if err != nil {
			return "", fmt.Errorf("generating content for %s: %w", cc.FilePath, err)
		}

		chunk := StripCodeFences(result.Text)
		if chunk == "" {
			return "", errors.New("no content generated")
		}
		full.WriteString(chunk)

		if !result.Truncated {
			return full.String(), nil
		}
		slog.Info("Generation hit token budget, continuing", "path", cc.FilePath, "attempt", attempt, "max", g.cfg.CodegenMaxAttempts)
	}
	return full.String(), nil
}

func buildContextContent(cc CodegenContext) string {
	var sections []string

	if cc.Snapshot != "" {
		sections = append(sections, "## Project Structure", cc.Snapshot, "")
	}

	appendFiles := func(title string, files map[string]string) {
		if len(files) == 0 {
			return
		}
		sections = append(sections, title)
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			sections = append(sections, "### "+p, "```typescript", files[p], "```", "")
		}
	}
	appendFiles("## Files Read (Existing Code)", cc.ReadFiles)
	appendFiles("## Files Created Previously (Generated Code)", cc.CreatedFiles)

	if len(cc.History) > 0 {
		sections = append(sections, "## Execution History (All Actions Performed)")

		var installed, listings, commands, removed []string
		for _, entry := range cc.History {
			if !entry.Success {
				continue
			}
			switch entry.Action.Type {
			case domain.ActionInstallPackage:
				name := entry.Action.Pkg
				if name == "" {
					name = strings.Join(entry.Action.Packages, ", ")
				}
				if name == "" {
					name = entry.Result.Message
				}
				installed = append(installed, "- "+name)
			case domain.ActionListDir:
				listings = append(listings, "**"+entry.Action.Path+":**", entry.Result.Message, "")
			case domain.ActionRun:
				commands = append(commands,
					"**Command:** "+entry.Action.Command,
					"**Result:** "+entry.Result.Message, "")
			case domain.ActionRemoveFile:
				removed = append(removed, fmt.Sprintf("- %s (%s)", entry.Action.Path, entry.Result.Message))
			}
		}

		if len(installed) > 0 {
			sections = append(sections, "### Packages Installed")
			sections = append(sections, installed...)
			sections = append(sections, "")
		}
		if len(listings) > 0 {
			sections = append(sections, "### Directory Structure")
			sections = append(sections, listings...)
		}
		if len(commands) > 0 {
			sections = append(sections, "### Commands Executed")
			sections = append(sections, commands...)
		}
		if len(removed) > 0 {
			sections = append(sections, "### Files Removed")
			sections = append(sections, removed...)
			sections = append(sections, "")
		}
	}

	return strings.Join(sections, "\n")
}

func buildCodegenPrompt(filePath, userRequest, contextContent, previous string, continuation bool) string {
	lines := []string{
		"You are an expert React Native/Expo developer generating intelligent code.",
		"",
	}

	if continuation && previous != "" {
		lines = append(lines,
			"## CONTINUATION MODE",
			"You are continuing code that was cut off by a token limit.",
			"The previous fragment is below. Continue EXACTLY where it left off.",
			"DO NOT repeat any of the previous code and DO NOT add markdown fences.",
			"",
			"## Previous Code Fragment",
			"```typescript",
			previous,
			"```",
			"",
			"## Task",
			"Continue generating the remaining code for the file, picking up exactly where the fragment ended.",
		)
	} else {
		lines = append(lines,
			"## Task",
			"Generate complete, working code for: "+filePath,
			"",
			"## User Request",
			userRequest,
			"",
			"## Available Context",
		)
		if contextContent == "" {
			contextContent = "No previous context available."
		}
		lines = append(lines, contextContent)
	}

	lines = append(lines,
		"",
		"## Instructions",
		"- Generate ONLY the file content, no explanations or markdown",
		"- Include proper TypeScript types and imports",
		"- Follow Expo Router conventions; use useRouter() from expo-router for navigation",
		"- Use StyleSheet.create() with modern styling: shadows, rounded corners, consistent spacing",
		"- Stay consistent with previously read and created files and with installed packages",
		"",
	)
	if continuation {
		lines = append(lines, "Return ONLY the continuation of the code, nothing else.")
	} else {
		lines = append(lines, "Return ONLY the complete file content, nothing else.")
	}
	return strings.Join(lines, "\n")
}

var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```[a-zA-Z]*\n?")
	fenceCloseRe = regexp.MustCompile("(?m)\n?```$")
)

// StripCodeFences removes markdown code fences the model wraps around file
// content despite instructions not to.
func StripCodeFences(content string) string {
	cleaned := fenceOpenRe.ReplaceAllString(content, "")
	cleaned = fenceCloseRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
