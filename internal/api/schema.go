package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/privacy"
)

// rawEventSchema fixes the shape of an ingestion record. Required-field checks
// are left to the sanitizer so they surface as validation reasons; everything
// here is a shape failure and fails closed.
const rawEventSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"tool_name":    {"type": ["string", "null"], "maxLength": 512},
		"tool_version": {"type": ["string", "null"], "maxLength": 256},
		"command_path": {
			"type": ["array", "null"],
			"maxItems": 64,
			"items": {"type": "string", "maxLength": 1024}
		},
		"flags": {
			"type": ["array", "null"],
			"maxItems": 256,
			"items": {"type": "string", "maxLength": 1024}
		},
		"exit_code":    {"type": ["integer", "null"], "minimum": -2147483648, "maximum": 2147483647},
		"duration_ms":  {"type": ["integer", "null"]},
		"actor_id":     {"type": ["string", "null"], "maxLength": 1024},
		"machine_id":   {"type": ["string", "null"], "maxLength": 1024},
		"timestamp":    {"type": ["string", "null"], "format": "date-time"},
		"session_hint": {"type": ["string", "null"], "maxLength": 128},
		"ci_detected":  {"type": ["boolean", "null"]},
		"error_type":   {"type": ["string", "null"], "maxLength": 8192},
		"metadata": {
			"type": ["object", "null"],
			"maxProperties": 64,
			"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
		}
	}
}`

// RecordValidator checks raw ingestion records against rawEventSchema.
type RecordValidator struct {
	schema *jsonschema.Schema
}

// NewRecordValidator compiles the record schema.
func NewRecordValidator() (*RecordValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rawEventSchema))
	if err != nil {
		return nil, fmt.Errorf("NewRecordValidator: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("raw_event.json", doc); err != nil {
		return nil, fmt.Errorf("NewRecordValidator: %w", err)
	}
	sch, err := c.Compile("raw_event.json")
	if err != nil {
		return nil, fmt.Errorf("NewRecordValidator: %w", err)
	}
	return &RecordValidator{schema: sch}, nil
}

// Decode validates one record (as produced by jsonschema.UnmarshalJSON) and
// converts it to a RawEvent. Failures are shape rejections naming the
// offending top-level field, never its value.
func (v *RecordValidator) Decode(record any) (*model.RawEvent, error) {
	if err := v.schema.Validate(record); err != nil {
		return nil, privacy.ShapeRejection(fieldOf(err))
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, privacy.ShapeRejection("event")
	}
	var raw model.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, privacy.ShapeRejection("event")
	}
	return &raw, nil
}

// fieldOf returns the top-level property the deepest validation error points
// at, or "event" for errors on the record itself.
func fieldOf(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "event"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if len(ve.InstanceLocation) == 0 {
		return "event"
	}
	return ve.InstanceLocation[0]
}
