package domain

import "time"

// SchemaVersion is stamped on every emitted record.
const SchemaVersion = 1

// Ready is emitted once the breakpoint is installed and the worker is about to resume the target
type Ready struct {
	Type          string `json:"type"`          // "ready"
	SchemaVersion int    `json:"schemaVersion"` // 1
	SessionID     string `json:"session_id"`
	Process       string `json:"process"`     // Attached process name or path
	Arch          string `json:"arch"`        // Calling convention in use
	Breakpoint    int    `json:"breakpoint"`  // Installed breakpoint id
	Symbol        string `json:"symbol"`      // Intercepted symbol
	RunForever    bool   `json:"run_forever"` // Stay attached after the first interception
	Timestamp     string `json:"timestamp"`   // ISO8601 timestamp
}

// SnapshotEvent carries the original validation state of one intercepted request
type SnapshotEvent struct {
	Type          string   `json:"type"` // "snapshot"
	SchemaVersion int      `json:"schemaVersion"`
	SessionID     string   `json:"session_id"`
	Hit           int      `json:"hit"` // 1-based interception counter
	Snapshot      Snapshot `json:"snapshot"`
	Timestamp     string   `json:"timestamp"`
}

// DecisionEvent reports each matcher individually and the combined verdict.
// Matcher fields are nil when the matcher was not consulted.
type DecisionEvent struct {
	Type            string `json:"type"` // "decision"
	SchemaVersion   int    `json:"schemaVersion"`
	SessionID       string `json:"session_id"`
	Hit             int    `json:"hit"`
	Path            string `json:"path"`
	CDHash          string `json:"cdhash"`
	OriginalVerdict bool   `json:"original_verdict"`
	AllowedByPath   *bool  `json:"allowed_by_path,omitempty"`
	AllowedByCDHash *bool  `json:"allowed_by_cdhash,omitempty"`
	AllowedByCustom *bool  `json:"allowed_by_custom,omitempty"`
	Override        bool   `json:"override"`
	Timestamp       string `json:"timestamp"`
}

// OverrideEvent is emitted after the return register was rewritten
type OverrideEvent struct {
	Type          string `json:"type"` // "override"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	Hit           int    `json:"hit"`
	Path          string `json:"path"`
	CDHash        string `json:"cdhash"`
	Register      string `json:"register"`
	Value         string `json:"value"`
	Timestamp     string `json:"timestamp"`
}

// Warning reports a soft failure that did not end the session
type Warning struct {
	Type          string `json:"type"` // "warning"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
}

// ErrorOutput is the NDJSON form of a fatal error
type ErrorOutput struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// SessionEnd is emitted when the session detaches
type SessionEnd struct {
	Type          string         `json:"type"`          // "session_end"
	SchemaVersion int            `json:"schemaVersion"` // 1
	SessionID     string         `json:"session_id"`
	Reason        string         `json:"reason"` // "completed", "cancelled", "error"
	Summary       SessionSummary `json:"summary"`
}

// SessionSummary contains statistics about a completed session
type SessionSummary struct {
	Interceptions      int `json:"interceptions"`
	Overrides          int `json:"overrides"`
	AlreadyValid       int `json:"already_valid"`
	UnknownBreakpoints int `json:"unknown_breakpoints"`
	DurationSeconds    int `json:"duration_seconds"`
}

// NewReady creates a new Ready event
func NewReady(sessionID, process, arch, symbol string, breakpoint int, runForever bool) *Ready {
	return &Ready{
		Type:          "ready",
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Process:       process,
		Arch:          arch,
		Breakpoint:    breakpoint,
		Symbol:        symbol,
		RunForever:    runForever,
		Timestamp:     now(),
	}
}

// NewSnapshotEvent creates a new SnapshotEvent
func NewSnapshotEvent(sessionID string, hit int, s Snapshot) *SnapshotEvent {
	return &SnapshotEvent{
		Type:          "snapshot",
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Hit:           hit,
		Snapshot:      s,
		Timestamp:     now(),
	}
}

// NewDecisionEvent creates a new DecisionEvent
func NewDecisionEvent(sessionID string, hit int, s Snapshot, byPath, byCDHash, byCustom *bool, override bool) *DecisionEvent {
	return &DecisionEvent{
		Type:            "decision",
		SchemaVersion:   SchemaVersion,
		SessionID:       sessionID,
		Hit:             hit,
		Path:            s.Path,
		CDHash:          s.CDHash,
		OriginalVerdict: s.IsValid,
		AllowedByPath:   byPath,
		AllowedByCDHash: byCDHash,
		AllowedByCustom: byCustom,
		Override:        override,
		Timestamp:       now(),
	}
}

// NewWarning creates a new Warning
func NewWarning(sessionID, code, message string) *Warning {
	return &Warning{
		Type:          "warning",
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Code:          code,
		Message:       message,
		Timestamp:     now(),
	}
}

// NewErrorOutput creates a new ErrorOutput
func NewErrorOutput(code, message, hint string) *ErrorOutput {
	return &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
		Hint:          hint,
		Timestamp:     now(),
	}
}

// NewOverrideEvent creates a new OverrideEvent
func NewOverrideEvent(sessionID string, hit int, s Snapshot, register, value string) *OverrideEvent {
	return &OverrideEvent{
		Type:          "override",
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Hit:           hit,
		Path:          s.Path,
		CDHash:        s.CDHash,
		Register:      register,
		Value:         value,
		Timestamp:     now(),
	}
}

// NewSessionEnd creates a new SessionEnd event
func NewSessionEnd(sessionID, reason string, summary SessionSummary) *SessionEnd {
	return &SessionEnd{
		Type:          "session_end",
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Reason:        reason,
		Summary:       summary,
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
