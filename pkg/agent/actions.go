package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/sandbox"
)

// ExecContext carries the per-turn state the action executors share: the live
// sandbox session, the buffered run log, and the file cache that feeds code
// generation.
type ExecContext struct {
	Session   sandbox.Session
	Log       *LogWriter
	ReadFiles map[string]string
}

// Executor runs individual plan actions against a sandbox session. Every
// Execute call returns a ToolResult; executor failures are reported in the
// result, never as a panic or a bare error.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor with the given tunables.
func NewExecutor(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Execute dispatches one action to its tool implementation.
func (e *Executor) Execute(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	switch action.Type {
	case domain.ActionWriteFile:
		return e.writeFile(ctx, action, ec)
	case domain.ActionReadFile:
		return e.readFile(ctx, action, ec)
	case domain.ActionListDir:
		return e.listDir(ctx, action, ec)
	case domain.ActionRun:
		return e.runCommand(ctx, action, ec)
	case domain.ActionInstallPackage:
		return e.installPackage(ctx, action, ec)
	case domain.ActionRemoveFile:
		return e.removeFile(ctx, action, ec)
	default:
		return domain.ToolResult{
			Success: false,
			Message: fmt.Sprintf("Unknown action: %s", action.Type),
			Error:   fmt.Sprintf("Unsupported action type: %s", action.Type),
		}
	}
}

// DescribeAction renders a short human label for an action, used as the step
// text in status messages and recaps.
func DescribeAction(action domain.Action) string {
	switch action.Type {
	case domain.ActionWriteFile:
		if action.Path != "" {
			return "write " + action.Path
		}
		return "write a file"
	case domain.ActionReadFile:
		if action.Path != "" {
			return "read " + action.Path
		}
		return "read a file"
	case domain.ActionListDir:
		if action.Path != "" {
			return "list " + action.Path
		}
		return "list a directory"
	case domain.ActionRun:
		if action.Command != "" {
			return "run " + action.Command
		}
		return "run a command"
	case domain.ActionInstallPackage:
		if action.Pkg != "" {
			return "install " + action.Pkg
		}
		if len(action.Packages) > 0 {
			return "install " + strings.Join(action.Packages, ", ")
		}
		return "install a package"
	case domain.ActionRemoveFile:
		if action.Path != "" {
			return "delete " + action.Path
		}
		return "delete a file"
	default:
		return "action"
	}
}

// IsCritical reports whether a failure of this action should abort the
// remaining plan. Read-only probes are advisory; everything else mutates the
// project and later steps likely depend on it.
func IsCritical(action domain.Action) bool {
	switch action.Type {
	case domain.ActionReadFile, domain.ActionListDir:
		return false
	default:
		return true
	}
}
