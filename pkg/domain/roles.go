package domain

// Role defines the sender of a transcript message.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates a system-level message (e.g. action status).
	RoleSystem Role = "system"
)

// MessageType controls how a transcript entry is rendered.
type MessageType string

const (
	MessageTypeStandard     MessageType = "standard"
	MessageTypePlan         MessageType = "plan"
	MessageTypeActionStatus MessageType = "action_status"
	MessageTypeSummary      MessageType = "summary"
)

// ActionType discriminates the action union. Only these six kinds are ever
// executed; the payload parser drops everything else.
type ActionType string

const (
	ActionWriteFile      ActionType = "write_file"
	ActionReadFile       ActionType = "read_file"
	ActionListDir        ActionType = "list_dir"
	ActionRun            ActionType = "run"
	ActionInstallPackage ActionType = "install_package"
	ActionRemoveFile     ActionType = "remove_file"
)

// ActionStatus tracks an action through the execution loop. Transitions are
// strictly pending -> in_progress -> completed|failed, driven only by the
// orchestrator.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// RunStatus is the lifecycle state of a sandbox run.
type RunStatus string

const (
	RunReady   RunStatus = "ready"
	RunRunning RunStatus = "running"
	RunFailed  RunStatus = "failed"
	RunOff     RunStatus = "off"
)
