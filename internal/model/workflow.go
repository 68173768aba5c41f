package model

import (
	"fmt"
	"strings"
	"time"
)

// StepKind tags the variant held by a StepPattern.
type StepKind uint8

const (
	StepExact StepKind = iota + 1
	StepWildcard
)

// StepPattern is one step of a workflow template.
type StepPattern struct {
	Kind  StepKind
	Token string // set for StepExact only
}

// ExactStep returns a pattern matching a single command token.
func ExactStep(token string) StepPattern {
	return StepPattern{Kind: StepExact, Token: strings.ToLower(strings.TrimSpace(token))}
}

// WildcardStep returns a pattern matching any command.
func WildcardStep() StepPattern {
	return StepPattern{Kind: StepWildcard}
}

// ParseStep converts the textual form ("*" or a token) into a StepPattern.
func ParseStep(s string) (StepPattern, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return StepPattern{}, fmt.Errorf("ParseStep: empty step")
	case Wildcard:
		return WildcardStep(), nil
	}
	return ExactStep(s), nil
}

// Matches reports whether a command token satisfies the pattern.
func (p StepPattern) Matches(token string) bool {
	switch p.Kind {
	case StepExact:
		return p.Token == token
	case StepWildcard:
		return true
	}
	return false
}

func (p StepPattern) String() string {
	switch p.Kind {
	case StepWildcard:
		return Wildcard
	case StepExact:
		return p.Token
	}
	return ""
}

// MarshalText lets StepPattern round-trip through JSON and YAML as a plain string.
func (p StepPattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *StepPattern) UnmarshalText(b []byte) error {
	parsed, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// WorkflowTemplate is a named, ordered list of step patterns.
type WorkflowTemplate struct {
	Name        string        `json:"name" yaml:"name"`
	Steps       []StepPattern `json:"steps" yaml:"steps"`
	Description string        `json:"description,omitempty" yaml:"description"`
}

// Validate checks that the template can be matched.
func (t *WorkflowTemplate) Validate() error {
	if t.Name == "" || t.Name == UnmatchedTemplate {
		return fmt.Errorf("template name %q is reserved or empty", t.Name)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %q has no steps", t.Name)
	}
	for i, s := range t.Steps {
		if s.Kind != StepExact && s.Kind != StepWildcard {
			return fmt.Errorf("template %q step %d has unknown kind", t.Name, i)
		}
	}
	return nil
}

// WorkflowStep is the slice of an event a workflow instance keeps.
type WorkflowStep struct {
	EventID     string    `json:"event_id"`
	CommandPath []string  `json:"command_path"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	DurationMs  *int64    `json:"duration_ms,omitempty"`
	At          time.Time `json:"at"`
}

// Failed reports a known non-zero exit code.
func (s WorkflowStep) Failed() bool {
	return s.ExitCode != nil && *s.ExitCode != 0
}

// Succeeded reports a known zero exit code.
func (s WorkflowStep) Succeeded() bool {
	return s.ExitCode != nil && *s.ExitCode == 0
}

// Command returns the command path joined by spaces.
func (s WorkflowStep) Command() string {
	return strings.Join(s.CommandPath, " ")
}

// WorkflowInstance is a matched (or unmatched) sub-sequence of a session.
type WorkflowInstance struct {
	ID            string
	TenantID      string
	SessionID     string
	ActorHash     string
	TemplateName  string
	Complete      bool // reached the template's final step
	Steps         []WorkflowStep
	Outcome       Outcome
	StartedAt     time.Time
	EndedAt       time.Time
	SessionClosed bool
}

// Unmatched reports whether the instance is the session's unmatched bucket.
func (w *WorkflowInstance) Unmatched() bool {
	return w.TemplateName == UnmatchedTemplate
}

// SequenceKey is the ordered command sequence hot paths group on.
func (w *WorkflowInstance) SequenceKey() string {
	parts := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		parts[i] = s.Command()
	}
	return strings.Join(parts, " > ")
}

// Duration is wall time from the first step to the end of the last one.
func (w *WorkflowInstance) Duration() time.Duration {
	d := w.EndedAt.Sub(w.StartedAt)
	if n := len(w.Steps); n > 0 && w.Steps[n-1].DurationMs != nil {
		d += time.Duration(*w.Steps[n-1].DurationMs) * time.Millisecond
	}
	return d
}
