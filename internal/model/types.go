package model

import (
	"strings"
	"time"
)

// Outcome is the classification assigned to sessions and workflow instances.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeAbandoned Outcome = "ABANDONED"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeAbandoned:
		return true
	}
	return false
}

const (
	// UnmatchedTemplate names the per-session bucket of events no template claimed.
	UnmatchedTemplate = "unmatched"

	// RedactionMarker replaces content the sanitizer refuses to keep.
	RedactionMarker = "[REDACTED]"

	// AnonymousActor is hashed in place of a missing actor or machine identifier.
	AnonymousActor = "anonymous"

	// Wildcard matches any tool or command in templates and rules.
	Wildcard = "*"
)

// RawEvent is a command execution as reported by a client SDK. It is never persisted.
type RawEvent struct {
	ToolName    string         `json:"tool_name"`
	ToolVersion string         `json:"tool_version,omitempty"`
	CommandPath []string       `json:"command_path"`
	Flags       []string       `json:"flags,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	MachineID   string         `json:"machine_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionHint string         `json:"session_hint,omitempty"`
	CI          bool           `json:"ci_detected,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SanitizedEvent is the privacy-safe form of a RawEvent.
type SanitizedEvent struct {
	ID              string
	TenantID        string
	ToolName        string
	ToolVersion     string
	ActorHash       string
	MachineHash     string
	SessionHintHash string
	CommandPath     []string
	Flags           []string
	ExitCode        *int
	DurationMs      *int64
	ErrorType       string
	ClientTime      time.Time
	IngestedAt      time.Time
	CI              bool
	Processed       bool
	SessionID       string
}

// LastCommand returns the final command-path token, the token templates match on.
func (e *SanitizedEvent) LastCommand() string {
	if len(e.CommandPath) == 0 {
		return ""
	}
	return e.CommandPath[len(e.CommandPath)-1]
}

// Command returns the command path joined by spaces.
func (e *SanitizedEvent) Command() string {
	return strings.Join(e.CommandPath, " ")
}

// Failed reports a known non-zero exit code.
func (e *SanitizedEvent) Failed() bool {
	return e.ExitCode != nil && *e.ExitCode != 0
}

// Succeeded reports a known zero exit code.
func (e *SanitizedEvent) Succeeded() bool {
	return e.ExitCode != nil && *e.ExitCode == 0
}

// ActorRef identifies one inference partition.
type ActorRef struct {
	TenantID  string
	ActorHash string
}

// Session is a run of one actor's events separated by less than the inactivity gap.
type Session struct {
	ID              string
	TenantID        string
	ActorHash       string
	SessionHintHash string
	CI              bool
	EventIDs        []string
	StartedAt       time.Time
	EndedAt         time.Time
	Outcome         Outcome
	Closed          bool
}

// ExperimentDefinition is a tenant-scoped A/B experiment. Variant order is fixed at creation.
type ExperimentDefinition struct {
	ID          string
	TenantID    string
	Name        string
	Variants    []string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// RecommendationRule maps a (tool, command, failed) triple to a hint.
type RecommendationRule struct {
	ID             string `json:"id,omitempty" yaml:"-"`
	TenantID       string `json:"-" yaml:"-"`
	ToolPattern    string `json:"tool" yaml:"tool"`
	CommandPattern string `json:"command" yaml:"command"`
	OnFailure      bool   `json:"on_failure" yaml:"on_failure"`
	Hint           string `json:"hint" yaml:"hint"`
	Priority       int    `json:"priority" yaml:"priority"`
}
