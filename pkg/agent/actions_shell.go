package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bloomlabs/bloom/pkg/domain"
)

// Scaffolding and download commands are rejected: the project is modified in
// place, never regenerated or fetched from the network.
var disallowedCommands = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcreate-expo-app\b`),
	regexp.MustCompile(`(?i)\bcreate-next-app\b`),
	regexp.MustCompile(`(?i)\bnpm\s+(init|create)\b`),
	regexp.MustCompile(`(?i)\byarn\s+create\b`),
	regexp.MustCompile(`(?i)\bpnpm\s+create\b`),
	regexp.MustCompile(`(?i)\bbun\s+create\b`),
	regexp.MustCompile(`(?i)\bexpo\s+init\b`),
	regexp.MustCompile(`(?i)\bgit\s+clone\b`),
	regexp.MustCompile(`(?i)\bcurl\s+https?://`),
	regexp.MustCompile(`(?i)\bwget\s+https?://`),
}

// IsDisallowedCommand reports whether a shell command matches the deny list.
func IsDisallowedCommand(command string) bool {
	for _, re := range disallowedCommands {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

var packageNameRe = regexp.MustCompile(`(?i)^(@?[a-z0-9][\w\-./]*)(@[^\s]+)?$`)

// SanitizePackageName trims and validates one npm package spec, returning ""
// when it is not a safe bare name (no shell metacharacters, no flags).
func SanitizePackageName(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || !packageNameRe.MatchString(trimmed) {
		return ""
	}
	return trimmed
}

func (e *Executor) runCommand(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	if action.Command == "" {
		return failure("Failed to execute command", "run requires 'command'")
	}

	if IsDisallowedCommand(action.Command) {
		return domain.ToolResult{
			Success: false,
			Message: "Command not allowed",
			Error:   "This command is not allowed. Please use in-place modifications instead of scaffolding or external downloads.",
		}
	}

	var out strings.Builder
	err := runSandboxCommand(ctx, ec.Session, WrapProjectCommand(e.cfg.RootPath, action.Command), ec.Log, runOpts{
		background: action.Background,
		collect:    func(chunk string) { out.WriteString(chunk) },
	})
	if err != nil {
		return failure("Failed to execute command: "+action.Command, errText(err))
	}

	trimmed := strings.TrimSpace(out.String())
	message := "Command executed: " + action.Command
	if trimmed != "" {
		message = fmt.Sprintf("Command executed: %s\n\n```\n%s\n```", action.Command, trimmed)
	}
	return domain.ToolResult{
		Success: true,
		Message: message,
		Data:    map[string]any{"command": action.Command, "output": trimmed, "background": action.Background},
	}
}

func (e *Executor) installPackage(ctx context.Context, action domain.Action, ec *ExecContext) domain.ToolResult {
	var names []string
	if action.Pkg != "" {
		names = append(names, action.Pkg)
	}
	names = append(names, action.Packages...)

	var sanitized []string
	for _, name := range names {
		if clean := SanitizePackageName(name); clean != "" {
			sanitized = append(sanitized, clean)
		}
	}

	if len(sanitized) == 0 {
		raw, _ := json.Marshal(action.Redacted())
		return domain.ToolResult{
			Success: false,
			Message: fmt.Sprintf("No valid package name provided. Action received: %s", raw),
			Error:   `install_package requires 'pkg' field with package name. Example: { "type": "install_package", "pkg": "react-native" }`,
		}
	}

	flag := ""
	if action.Dev {
		flag = " --save-dev"
	}
	list := strings.Join(sanitized, " ")

	var script string
	if strings.TrimSpace(action.Path) != "" {
		normalized, err := NormalizePath(e.cfg.RootPath, action.Path)
		if err != nil {
			return failure("Invalid install directory", errText(err))
		}
		dir := ToRelative(e.cfg.RootPath, normalized)
		script = fmt.Sprintf(`cd "%s" && npm install%s %s`, EscapeDoubleQuotes(dir), flag, list)
	} else {
		// No explicit directory: install next to whichever package.json exists.
		script = strings.Join([]string{
			"set -e",
			"if [ -f package.json ]; then",
			fmt.Sprintf("  npm install%s %s", flag, list),
			"elif [ -f app/package.json ]; then",
			fmt.Sprintf("  cd app && npm install%s %s", flag, list),
			"else",
			"  echo 'package.json not found in project root or app/' >&2",
			"  exit 2",
			"fi",
		}, "\n")
	}

	var out strings.Builder
	err := runSandboxCommand(ctx, ec.Session, WrapProjectCommand(e.cfg.RootPath, script), ec.Log, runOpts{
		collect: func(chunk string) { out.WriteString(chunk) },
	})
	if err != nil {
		return failure("Failed to install packages: "+strings.Join(sanitized, ", "), errText(err))
	}

	message := "Packages installed: " + strings.Join(sanitized, ", ")
	if cleaned := strings.TrimSpace(out.String()); cleaned != "" {
		message = fmt.Sprintf("%s\n\n```\n%s\n```", message, cleaned)
	}
	return domain.ToolResult{Success: true, Message: message}
}
