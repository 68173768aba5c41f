// Package privacy turns raw client events into records that are safe to persist.
//
// Sanitize is a pure function of its inputs, the deployment hashing key, and the
// clock. It never logs and never returns rejected content.
package privacy

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/triage-ai/cli-analytics/internal/idhash"
	"github.com/triage-ai/cli-analytics/internal/model"
)

// Config holds the tunable limits of the sanitizer.
type Config struct {
	MaxClockSkew   time.Duration // events further in the future are rejected
	ErrorTextMax   int           // rune limit for the redacted error type
	OpaqueTokenMin int           // minimum length for opaque-token redaction
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxClockSkew:   5 * time.Minute,
		ErrorTextMax:   256,
		OpaqueTokenMin: 20,
	}
}

// Sanitizer applies the privacy rules to raw events.
type Sanitizer struct {
	hasher *idhash.Hasher
	cfg    Config
	now    func() time.Time
}

// NewSanitizer creates a Sanitizer. Zero-valued limits fall back to DefaultConfig.
func NewSanitizer(hasher *idhash.Hasher, cfg Config) *Sanitizer {
	def := DefaultConfig()
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = def.MaxClockSkew
	}
	if cfg.ErrorTextMax <= 0 {
		cfg.ErrorTextMax = def.ErrorTextMax
	}
	if cfg.OpaqueTokenMin <= 0 {
		cfg.OpaqueTokenMin = def.OpaqueTokenMin
	}
	return &Sanitizer{hasher: hasher, cfg: cfg, now: time.Now}
}

// HashActor hashes a caller-supplied actor identifier exactly as ingestion does.
func (s *Sanitizer) HashActor(actorID string) string {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = model.AnonymousActor
	}
	return s.hasher.Identifier(actorID)
}

// Sanitize converts raw into a SanitizedEvent or returns a *Rejection.
func (s *Sanitizer) Sanitize(tenantID string, raw *model.RawEvent) (*model.SanitizedEvent, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid(ReasonMissingTenant, "tenant")
	}
	if raw == nil {
		return nil, ShapeRejection("event")
	}

	tool := sanitizeToolName(raw.ToolName)
	if tool == "" {
		return nil, invalid(ReasonMissingToolName, "tool_name")
	}

	if raw.Timestamp.IsZero() {
		return nil, invalid(ReasonMissingTimestamp, "timestamp")
	}
	now := s.now().UTC()
	if raw.Timestamp.After(now.Add(s.cfg.MaxClockSkew)) {
		return nil, invalid(ReasonFutureTimestamp, "timestamp")
	}

	if len(raw.CommandPath) == 0 {
		return nil, invalid(ReasonMissingCommandPath, "command_path")
	}
	path := make([]string, len(raw.CommandPath))
	for i, tok := range raw.CommandPath {
		path[i] = s.sanitizeCommandToken(tok)
	}

	for _, v := range raw.Metadata {
		if !scalar(v) {
			return nil, ShapeRejection("metadata")
		}
	}

	errType, ok := s.redactErrorText(raw.ErrorType)
	if !ok {
		return nil, unsafe("error_type")
	}

	ev := &model.SanitizedEvent{
		TenantID:    tenantID,
		ToolName:    tool,
		ToolVersion: sanitizeVersion(raw.ToolVersion),
		ActorHash:   s.HashActor(raw.ActorID),
		MachineHash: s.HashActor(raw.MachineID),
		CommandPath: path,
		Flags:       sanitizeFlags(raw.Flags),
		ExitCode:    copyInt(raw.ExitCode),
		DurationMs:  nonNegative(raw.DurationMs),
		ErrorType:   errType,
		ClientTime:  raw.Timestamp.UTC(),
		IngestedAt:  now,
		CI:          raw.CI,
	}
	if hint := strings.TrimSpace(raw.SessionHint); hint != "" {
		ev.SessionHintHash = s.hasher.Identifier(hint)
	}
	ev.ID = s.eventID(ev)
	return ev, nil
}

// eventID is a content key over the sanitized fields, so a resubmitted raw event
// maps to the same row.
func (s *Sanitizer) eventID(ev *model.SanitizedEvent) string {
	exit := "null"
	if ev.ExitCode != nil {
		exit = strconv.Itoa(*ev.ExitCode)
	}
	return "evt_" + s.hasher.Fingerprint(
		ev.TenantID,
		ev.ActorHash,
		ev.MachineHash,
		strconv.FormatInt(ev.ClientTime.UnixNano(), 10),
		ev.ToolName,
		strings.Join(ev.CommandPath, "\x1f"),
		strings.Join(ev.Flags, "\x1f"),
		exit,
	)
}

func (s *Sanitizer) sanitizeCommandToken(tok string) string {
	tok = strings.TrimSpace(tok)
	if len(tok) > maxCommandToken || !commandTokRe.MatchString(tok) || looksOpaque(tok, s.cfg.OpaqueTokenMin) {
		return model.RedactionMarker
	}
	return strings.ToLower(tok)
}

// redactErrorText replaces emails, paths and opaque tokens with the marker. The
// second result is false when the output still looks unsafe.
func (s *Sanitizer) redactErrorText(text string) (string, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", true
	}
	out := emailRe.ReplaceAllString(text, model.RedactionMarker)
	out = pathRe.ReplaceAllString(out, model.RedactionMarker)
	out = opaqueRunRe.ReplaceAllStringFunc(out, func(m string) string {
		if opaqueRun(m, s.cfg.OpaqueTokenMin) {
			return model.RedactionMarker
		}
		return m
	})
	out = truncateRunes(out, s.cfg.ErrorTextMax)

	if strings.ContainsAny(out, `/\`) || emailRe.MatchString(out) || !utf8.ValidString(out) {
		return "", false
	}
	return out, true
}

// sanitizeFlags keeps only well-formed flag names, dropping values and any name
// that carries a blocked substring. Order is preserved, duplicates removed.
func sanitizeFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	seen := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		name := strings.TrimSpace(f)
		if i := strings.IndexAny(name, "=:"); i >= 0 {
			name = name[:i]
		}
		if !flagNameRe.MatchString(name) || flagBlocked(name) {
			continue
		}
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func sanitizeToolName(name string) string {
	name = toolNameStrip.ReplaceAllString(strings.TrimSpace(name), "")
	if len(name) > maxToolName {
		name = name[:maxToolName]
	}
	return name
}

func sanitizeVersion(v string) string {
	v = versionStrip.ReplaceAllString(strings.TrimSpace(v), "")
	if len(v) > maxToolVersion {
		v = v[:maxToolVersion]
	}
	return v
}

func scalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64:
		return true
	}
	return false
}

func truncateRunes(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen > 3 {
		return string(runes[:maxLen-3]) + "..."
	}
	return string(runes[:maxLen])
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func nonNegative(p *int64) *int64 {
	if p == nil || *p < 0 {
		return nil
	}
	v := *p
	return &v
}
