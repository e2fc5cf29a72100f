package agent

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bloomlabs/bloom/pkg/domain"
)

func (e *Executor) writeFile(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	if action.Path == "" {
		return failure("Failed to write file", "write_file requires 'path'")
	}

	target, err := NormalizePath(e.cfg.RootPath, action.Path)
	if err != nil {
		return failure("Failed to write file", errText(err))
	}

	content := action.Content
	if content == "" {
		content = DefaultFileContent(action.Path)
	}
	if content == "" {
		return failure("Failed to write file", "write_file requires 'content'")
	}

	dir := path.Dir(target)
	mkdir := fmt.Sprintf(`mkdir -p "%s"`, EscapeDoubleQuotes(dir))
	if err := runSandboxCommand(ctx, ec.Session, WrapProjectCommand(e.cfg.RootPath, mkdir), ec.Log, runOpts{}); err != nil {
		return failure("Failed to write file", errText(err))
	}

	if err := ec.Session.WriteFile(ctx, target, []byte(content)); err != nil {
		return failure("Failed to write file", errText(err))
	}

	// Nudge the dev server's file watcher; harmless if nothing watches.
	touch := fmt.Sprintf(`bash -lc 'touch "%s"'`, EscapeDoubleQuotes(target))
	if err := runSandboxCommand(ctx, ec.Session, touch, ec.Log, runOpts{quiet: true}); err == nil {
		ec.Log.Push(fmt.Sprintf("[writeFile] touched %s to trigger HMR\n", target))
	}

	ec.Log.Push(fmt.Sprintf("[writeFile] wrote %s\n", target))

	return domain.ToolResult{
		Success: true,
		Message: "File created: " + ToRelative(e.cfg.RootPath, target),
		Data:    map[string]any{"path": target, "size": len(content)},
	}
}

func (e *Executor) readFile(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	if action.Path == "" {
		return failure("Failed to read file", "read_file requires 'path'")
	}

	target, err := NormalizePath(e.cfg.RootPath, action.Path)
	if err != nil {
		return failure("Failed to read file", errText(err))
	}

	data, err := ec.Session.ReadFile(ctx, target)
	if err != nil {
		// Show the parent directory so the planner can correct the path.
		parent := path.Dir(target)
		var listing strings.Builder
		ls := fmt.Sprintf(`ls -la "%s"`, EscapeDoubleQuotes(parent))
		_ = runSandboxCommand(ctx, ec.Session, WrapProjectCommand(e.cfg.RootPath, ls), ec.Log, runOpts{
			quiet:   true,
			collect: func(chunk string) { listing.WriteString(chunk) },
		})
		shown := strings.TrimSpace(listing.String())
		if shown == "" {
			shown = "(empty)"
		}
		return domain.ToolResult{
			Success: false,
			Message: "File not found: " + ToRelative(e.cfg.RootPath, target),
			Error:   fmt.Sprintf("Contents of %s:\n\n```\n%s\n```", ToRelative(e.cfg.RootPath, parent), shown),
		}
	}

	text := string(data)
	ec.Log.Push(fmt.Sprintf("[readFile] read %s\n", target))
	if ec.ReadFiles != nil {
		ec.ReadFiles[target] = text
		ec.Log.Push(fmt.Sprintf("[readFile] stored %s in context (%d chars)\n", target, len(text)))
	}

	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("File content: %s\n\n```\n%s\n```", ToRelative(e.cfg.RootPath, target), text),
		Data:    map[string]any{"path": target, "content": text, "size": len(text)},
	}
}

func (e *Executor) listDir(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	raw := action.Path
	if raw == "" {
		raw = "."
	}
	target, err := NormalizePath(e.cfg.RootPath, raw)
	if err != nil {
		return failure("Failed to list directory", errText(err))
	}

	depth := action.Depth
	if depth < 1 {
		depth = 2
	}
	safe := EscapeDoubleQuotes(target)

	var body string
	if action.Recursive {
		body = fmt.Sprintf(
			`if [ -e "%s" ]; then ls -la "%s" || true; echo ''; find "%s" -maxdepth %d -print || true; else echo "__MISSING__"; fi`,
			safe, safe, safe, depth)
	} else {
		body = fmt.Sprintf(`if [ -e "%s" ]; then ls -la "%s" || true; else echo "__MISSING__"; fi`, safe, safe)
	}

	var out strings.Builder
	if err := runSandboxCommand(ctx, ec.Session, WrapProjectCommand(e.cfg.RootPath, body), ec.Log, runOpts{
		quiet:   true,
		collect: func(chunk string) { out.WriteString(chunk) },
	}); err != nil {
		return failure("Failed to list directory", errText(err))
	}

	trimmed := strings.TrimSpace(out.String())
	rel := ToRelative(e.cfg.RootPath, target)

	if trimmed == "__MISSING__" {
		return domain.ToolResult{
			Success: false,
			Message: fmt.Sprintf("Directory listing: %s\n\n```\n(directory not found)\n```", rel),
			Error:   "Directory not found",
		}
	}

	shown := trimmed
	if shown == "" {
		shown = "(empty)"
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Directory listing: %s\n\n```\n%s\n```", rel, shown),
		Data:    map[string]any{"path": target, "listing": shown, "recursive": action.Recursive, "depth": depth},
	}
}

func (e *Executor) removeFile(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	if action.Path == "" {
		return failure("Failed to remove file", "remove_file requires 'path'")
	}

	target, err := NormalizePath(e.cfg.RootPath, action.Path)
	if err != nil {
		return failure("Failed to remove file", errText(err))
	}
	if err := ec.Session.RemoveFile(ctx, target); err != nil {
		return failure("Failed to remove file", errText(err))
	}

	ec.Log.Push(fmt.Sprintf("[removeFile] removed %s\n", target))
	return domain.ToolResult{
		Success: true,
		Message: "Deleted: " + ToRelative(e.cfg.RootPath, target),
		Data:    map[string]any{"path": target},
	}
}

func failure(message, errText string) domain.ToolResult {
	return domain.ToolResult{Success: false, Message: message, Error: errText}
}
