package agent

import "time"

// Config carries the tunables of the assistant core. Tests override the
// timing fields; production uses DefaultConfig with the template and root
// filled in from the environment.
type Config struct {
	// RootPath is the project root inside the sandbox. Every file path an
	// action names is confined under it.
	RootPath string
	// Template identifies the sandbox image to provision sessions from.
	Template string
	// SessionTimeout is the idle timeout applied to new and reused sessions.
	SessionTimeout time.Duration

	// MaxActions caps how many plan actions execute in one turn. Excess
	// actions are silently dropped.
	MaxActions int
	// HistoryWindow is how many prior transcript turns feed the planner.
	HistoryWindow int

	// ReadyTimeout bounds the wait for a sandbox run to become ready.
	ReadyTimeout time.Duration
	// ReadyPoll is the interval between readiness checks.
	ReadyPoll time.Duration

	// PlanMaxTokens is the output budget for planning calls.
	PlanMaxTokens int
	// CodegenMaxTokens is the output budget for each code generation call.
	CodegenMaxTokens int
	// CodegenMaxAttempts bounds continuation rounds when generation output
	// is truncated by the token budget.
	CodegenMaxAttempts int

	// LogFlushInterval is the debounce window for the buffered log writer.
	LogFlushInterval time.Duration
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		RootPath:           "/home/user/app",
		Template:           "bloom-sandbox:latest",
		SessionTimeout:     15 * time.Minute,
		MaxActions:         20,
		HistoryWindow:      10,
		ReadyTimeout:       45 * time.Second,
		ReadyPoll:          1 * time.Second,
		PlanMaxTokens:      4096,
		CodegenMaxTokens:   4096,
		CodegenMaxAttempts: 5,
		LogFlushInterval:   250 * time.Millisecond,
	}
}
