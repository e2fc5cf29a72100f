package agent

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside the project root.
// This is the sole sandbox-escape guard: every executor routes paths through
// NormalizePath.
var ErrPathEscape = errors.New("path outside of project root")

// NormalizePath joins a raw action path under the project root and
// canonicalizes it. Absolute inputs are accepted only if they already point
// inside the root.
func NormalizePath(root, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	base := trimmed
	if !strings.HasPrefix(trimmed, "/") {
		base = path.Join(root, trimmed)
	}
	normalized := path.Clean(base)

	if normalized != root && !strings.HasPrefix(normalized, root+"/") {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, raw)
	}
	return normalized, nil
}

// ToRelative converts an absolute in-sandbox path back to a root-relative one
// for human-readable display.
func ToRelative(root, absolute string) string {
	if absolute == root {
		return "."
	}
	if strings.HasPrefix(absolute, root+"/") {
		return absolute[len(root)+1:]
	}
	return absolute
}

// EscapeDoubleQuotes backslash-escapes embedded double quotes for safe
// interpolation into a double-quoted shell word. Callers supply the quotes.
func EscapeDoubleQuotes(value string) string {
	return strings.ReplaceAll(value, `"`, `\"`)
}

// WrapProjectCommand wraps a command body in a single login-shell invocation
// that guarantees the project root exists and is the working directory. The
// body is single-quote escaped (embedded single quotes close and reopen the
// quoted string).
func WrapProjectCommand(root, body string) string {
	sanitized := strings.ReplaceAll(body, "\r", "")
	escaped := strings.ReplaceAll(sanitized, "'", `'\''`)
	return fmt.Sprintf("bash -lc 'mkdir -p %s && cd %s && %s'", root, root, escaped)
}

// errText normalizes an error to plain text for logs and transcripts.
func errText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	return err.Error()
}
