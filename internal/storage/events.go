package storage

import (
	"strings"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// EventWriter mirrors accepted events to an analytics sink.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *CommandEvent)
	Close()
}

// CommandEvent is the flattened row written to the cli_events table.
type CommandEvent struct {
	EventID     string
	TenantID    string
	Timestamp   time.Time
	IngestedAt  time.Time
	ToolName    string
	ToolVersion string
	ActorHash   string
	MachineHash string
	Command     string   // command path joined by spaces
	CommandPath []string // individual tokens
	Flags       []string
	ExitCode    *int32
	DurationMs  *int64
	ErrorType   string
	Failed      bool
	CI          bool
}

// NewCommandEvent flattens a sanitized event for the mirror.
func NewCommandEvent(e *model.SanitizedEvent) *CommandEvent {
	ce := &CommandEvent{
		EventID:     e.ID,
		TenantID:    e.TenantID,
		Timestamp:   e.ClientTime.UTC(),
		IngestedAt:  e.IngestedAt.UTC(),
		ToolName:    e.ToolName,
		ToolVersion: e.ToolVersion,
		ActorHash:   e.ActorHash,
		MachineHash: e.MachineHash,
		Command:     strings.Join(e.CommandPath, " "),
		CommandPath: nonNil(e.CommandPath),
		Flags:       nonNil(e.Flags),
		DurationMs:  e.DurationMs,
		ErrorType:   e.ErrorType,
		CI:          e.CI,
	}
	if e.ExitCode != nil {
		code := int32(*e.ExitCode)
		ce.ExitCode = &code
		ce.Failed = code != 0
	}
	return ce
}

// WriteAll converts and queues each event.
func WriteAll(w EventWriter, events []*model.SanitizedEvent) {
	for _, e := range events {
		w.Write(NewCommandEvent(e))
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
