package privacy

import (
	"errors"
	"fmt"
)

// Kind separates caller mistakes from content the sanitizer refuses to handle.
type Kind uint8

const (
	// KindValidation is a malformed or missing required field. Reported to the caller.
	KindValidation Kind = iota + 1
	// KindPrivacyRisk is content whose redaction cannot be guaranteed. Always fail-closed.
	KindPrivacyRisk
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrivacyRisk:
		return "privacy_risk"
	}
	return "unknown"
}

// Reason codes. Stable, machine-readable, and never derived from event content.
const (
	ReasonMissingTenant      = "missing_tenant"
	ReasonMissingToolName    = "missing_tool_name"
	ReasonMissingCommandPath = "missing_command_path"
	ReasonMissingTimestamp   = "missing_timestamp"
	ReasonFutureTimestamp    = "timestamp_in_future"
	ReasonInvalidShape       = "invalid_shape"
	ReasonUnredactable       = "unredactable_content"
)

// Rejection explains why an event was not accepted. It carries the field name
// but never the offending value.
type Rejection struct {
	Kind  Kind
	Code  string
	Field string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("event rejected (%s): %s", r.Kind, r.Code)
	}
	return fmt.Sprintf("event rejected (%s): %s on %s", r.Kind, r.Code, r.Field)
}

func invalid(code, field string) *Rejection {
	return &Rejection{Kind: KindValidation, Code: code, Field: field}
}

func unsafe(field string) *Rejection {
	return &Rejection{Kind: KindPrivacyRisk, Code: ReasonUnredactable, Field: field}
}

// ShapeRejection reports a record whose structure could not be recognized.
func ShapeRejection(field string) *Rejection {
	return &Rejection{Kind: KindPrivacyRisk, Code: ReasonInvalidShape, Field: field}
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
