// Package model defines the data types shared across tmai's detection,
// monitoring and auto-approval pipeline.
package model

import "time"

// AgentKind is the detected kind of CLI agent running in a pane.
type AgentKind string

const (
	AgentClaudeCode AgentKind = "claude_code"
	AgentCodex      AgentKind = "codex"
	AgentGemini     AgentKind = "gemini"
	AgentOpenCode   AgentKind = "opencode"
	AgentUnknown    AgentKind = "unknown"
)

// NormalizeAgentKind maps free-form agent labels (command line tokens,
// wrapper argv) onto the canonical enum.
func NormalizeAgentKind(s string) AgentKind {
	switch AgentKind(s) {
	case AgentClaudeCode, AgentCodex, AgentGemini, AgentOpenCode:
		return AgentKind(s)
	default:
		return AgentUnknown
	}
}

// AgentStatusKind discriminates the AgentStatus tagged union.
type AgentStatusKind string

const (
	StatusProcessing       AgentStatusKind = "processing"
	StatusIdle             AgentStatusKind = "idle"
	StatusAwaitingApproval AgentStatusKind = "awaiting_approval"
	StatusError            AgentStatusKind = "error"
	StatusOffline          AgentStatusKind = "offline"
)

// ApprovalKind enumerates the shape of an awaited approval prompt.
type ApprovalKind string

const (
	ApprovalFileEdit     ApprovalKind = "file_edit"
	ApprovalFileCreate   ApprovalKind = "file_create"
	ApprovalFileDelete   ApprovalKind = "file_delete"
	ApprovalShellCommand ApprovalKind = "shell_command"
	ApprovalMcpTool      ApprovalKind = "mcp_tool"
	ApprovalUserQuestion ApprovalKind = "user_question"
	ApprovalYesNo        ApprovalKind = "yes_no"
	ApprovalOther        ApprovalKind = "other"
)

// AgentStatus is the tagged-union runtime status of one agent pane.
//
// Exactly one Kind applies at a time; the fields relevant to other kinds
// are left at their zero value.
type AgentStatus struct {
	Kind AgentStatusKind

	// Processing
	Activity string // optional verb, e.g. "Spinning", "Compacting"

	// AwaitingApproval
	ApprovalKind   ApprovalKind
	Details        string
	Choices        []string
	MultiSelect    bool
	CursorPosition int // 1-based; valid range [1, len(Choices)]

	// Error
	Message string
}

// Validate enforces the shape constraints an awaiting-approval status must
// satisfy: choices only accompany a user question, a cursor position only
// makes sense alongside choices and must land inside them, and a
// multi-select question needs at least two options to choose among.
func (s AgentStatus) Validate() error {
	if s.Kind != StatusAwaitingApproval {
		return nil
	}
	if s.ApprovalKind != ApprovalUserQuestion && len(s.Choices) != 0 {
		return errChoicesWithoutUserQuestion
	}
	if len(s.Choices) > 0 {
		if s.CursorPosition < 1 || s.CursorPosition > len(s.Choices) {
			return errCursorOutOfRange
		}
	}
	if s.ApprovalKind == ApprovalUserQuestion && s.MultiSelect && len(s.Choices) < 2 {
		return errMultiSelectNeedsChoices
	}
	return nil
}

// Confidence is the three-level confidence scale carried on every
// DetectionResult.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DetectionSource names where a classification came from.
type DetectionSource string

const (
	SourceIPCSocket   DetectionSource = "ipc_socket"
	SourceCapturePane DetectionSource = "capture_pane"
)

// DetectionReason carries the rule-name/confidence/evidence triple that
// every classification exposes for auditing and debugging.
type DetectionReason struct {
	Rule        string
	Confidence  Confidence
	MatchedText string // truncated to 200 runes by NewDetectionReason
}

const maxMatchedTextRunes = 200

// NewDetectionReason builds a DetectionReason, truncating MatchedText to a
// bounded length so a runaway capture buffer can never bloat an audit line.
func NewDetectionReason(rule string, confidence Confidence, matchedText string) DetectionReason {
	r := []rune(matchedText)
	if len(r) > maxMatchedTextRunes {
		r = r[:maxMatchedTextRunes]
	}
	return DetectionReason{Rule: rule, Confidence: confidence, MatchedText: string(r)}
}

// DetectionResult is one classifier's verdict.
type DetectionResult struct {
	Status AgentStatus
	Reason DetectionReason
	Source DetectionSource
}

// PaneKey is the stable identifier a multiplexer assigns to a pane, scoped
// by target so that future multi-target growth does not change the key
// shape.
type PaneKey string

// NewPaneKey builds the canonical "<target>|<pane_id>" key.
func NewPaneKey(targetID, paneID string) PaneKey {
	return PaneKey(targetID + "|" + paneID)
}

// TeamRef optionally associates a pane with a team/task overlay, supplied
// by an external team/task collaborator.
type TeamRef struct {
	TeamName   string
	MemberName string
	IsLead     bool
}

// AgentRecord is one pane's full identity plus its current status.
type AgentRecord struct {
	PaneKey   PaneKey
	Kind      AgentKind
	PID       int
	CmdLine   string
	Cwd       string
	Title     string
	Team      *TeamRef
	Status    AgentStatus
	UpdatedAt time.Time
}

// StateRecord is the normalized on-wire message the PTY proxy pushes over
// IPC and persists to its per-pane state file.
type StateRecord struct {
	Status         AgentStatusKind `json:"status"`
	Activity       string          `json:"activity,omitempty"`
	ApprovalKind   ApprovalKind    `json:"approval_kind,omitempty"`
	Details        string          `json:"details,omitempty"`
	Choices        []string        `json:"choices,omitempty"`
	MultiSelect    bool            `json:"multi_select,omitempty"`
	CursorPosition *int            `json:"cursor_position,omitempty"`
	Message        string          `json:"message,omitempty"`
	LastOutputMs   int64           `json:"last_output_ms"`
	LastInputMs    int64           `json:"last_input_ms"`
	PID            int             `json:"pid"`
	PaneKey        string          `json:"pane_key,omitempty"`
	TeamName       string          `json:"team_name,omitempty"`
	TeamMember     string          `json:"team_member,omitempty"`
	IsTeamLead     bool            `json:"is_team_lead,omitempty"`
}

// ToStatus converts a wire StateRecord back into an AgentStatus.
func (r StateRecord) ToStatus() AgentStatus {
	s := AgentStatus{
		Kind:         r.Status,
		Activity:     r.Activity,
		ApprovalKind: r.ApprovalKind,
		Details:      r.Details,
		Choices:      r.Choices,
		MultiSelect:  r.MultiSelect,
		Message:      r.Message,
	}
	if r.CursorPosition != nil {
		s.CursorPosition = *r.CursorPosition
	}
	return s
}

// FromStatus builds the wire StateRecord fields from an AgentStatus; the
// timestamp/pid/pane_key fields are filled in separately by the caller.
func FromStatus(s AgentStatus) StateRecord {
	r := StateRecord{
		Status:       s.Kind,
		Activity:     s.Activity,
		ApprovalKind: s.ApprovalKind,
		Details:      s.Details,
		Choices:      s.Choices,
		MultiSelect:  s.MultiSelect,
		Message:      s.Message,
	}
	if s.Kind == StatusAwaitingApproval && len(s.Choices) > 0 {
		cp := s.CursorPosition
		r.CursorPosition = &cp
	}
	return r
}

// AuditEventType enumerates the AuditEvent variants.
type AuditEventType string

const (
	EventStateChanged              AuditEventType = "state_changed"
	EventAgentAppeared             AuditEventType = "agent_appeared"
	EventAgentDisappeared          AuditEventType = "agent_disappeared"
	EventSourceDisagreement        AuditEventType = "source_disagreement"
	EventUserInputDuringProcessing AuditEventType = "user_input_during_processing"
	EventAutoApproveJudgment       AuditEventType = "auto_approve_judgment"
)

// AuditEvent is one line of the append-only audit log.
type AuditEvent struct {
	Event     AuditEventType `json:"event"`
	Timestamp time.Time      `json:"ts"`
	PaneKey   string         `json:"pane_key"`
	AgentKind AgentKind      `json:"agent_kind,omitempty"`

	// StateChanged
	PrevStatus *AgentStatusKind `json:"prev_status,omitempty"`
	NewStatus  *AgentStatusKind `json:"new_status,omitempty"`

	// SourceDisagreement
	IPCStatus     *AgentStatusKind `json:"ipc_status,omitempty"`
	CaptureStatus *AgentStatusKind `json:"capture_status,omitempty"`

	// UserInputDuringProcessing
	ObservedStatus *AgentStatusKind `json:"observed_status,omitempty"`

	// AutoApproveJudgment
	Decision     string `json:"decision,omitempty"`
	Model        string `json:"model,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms,omitempty"`
	ApprovalSent bool   `json:"approval_sent,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Sentinel errors returned by Validate.
var (
	errChoicesWithoutUserQuestion = statusError("choices must be empty unless kind is user_question")
	errCursorOutOfRange           = statusError("cursor_position out of [1, len(choices)] range")
	errMultiSelectNeedsChoices    = statusError("multi_select user_question requires at least two choices")
)

type statusError string

func (e statusError) Error() string { return string(e) }
