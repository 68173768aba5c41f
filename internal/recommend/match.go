// Package recommend selects a tenant's hint for a command.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// Match picks the best rule for (tool, command, failed), or nil.
//
// A rule applies when its tool pattern and command pattern each match exactly or
// are the wildcard, and its on_failure flag equals failed. The command pattern is
// compared against the full command and against its last token, so both
// "deploy" and "mycli deploy" match "mycli deploy". Among candidates an exact
// tool beats a wildcard tool, then an exact command beats a wildcard command,
// then the lower priority number wins. Rule id settles anything left.
func Match(rules []model.RecommendationRule, tool, command string, failed bool) *model.RecommendationRule {
	tool = strings.ToLower(strings.TrimSpace(tool))
	command = normalizeCommand(command)

	var best *model.RecommendationRule
	var bestScore score
	for i := range rules {
		r := &rules[i]
		if r.OnFailure != failed {
			continue
		}
		toolExact, ok := matchTool(r.ToolPattern, tool)
		if !ok {
			continue
		}
		cmdExact, ok := matchCommand(r.CommandPattern, command)
		if !ok {
			continue
		}
		s := score{toolExact: toolExact, cmdExact: cmdExact, priority: r.Priority, id: r.ID}
		if best == nil || s.beats(bestScore) {
			best, bestScore = r, s
		}
	}
	return best
}

type score struct {
	toolExact bool
	cmdExact  bool
	priority  int
	id        string
}

func (s score) beats(o score) bool {
	if s.toolExact != o.toolExact {
		return s.toolExact
	}
	if s.cmdExact != o.cmdExact {
		return s.cmdExact
	}
	if s.priority != o.priority {
		return s.priority < o.priority
	}
	return s.id < o.id
}

func matchTool(pattern, tool string) (exact, ok bool) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == model.Wildcard {
		return false, true
	}
	return true, pattern != "" && pattern == tool
}

func matchCommand(pattern, command string) (exact, ok bool) {
	pattern = normalizeCommand(pattern)
	if pattern == model.Wildcard {
		return false, true
	}
	if pattern == "" || command == "" {
		return true, false
	}
	if pattern == command {
		return true, true
	}
	last := command
	if i := strings.LastIndexByte(command, ' '); i >= 0 {
		last = command[i+1:]
	}
	return true, pattern == last
}

func normalizeCommand(c string) string {
	return strings.ToLower(strings.Join(strings.Fields(c), " "))
}

// Store reads and replaces a tenant's rules.
type Store interface {
	Rules(ctx context.Context, tenantID string) ([]model.RecommendationRule, error)
	ReplaceRules(ctx context.Context, tenantID string, rules []model.RecommendationRule) error
}

// Service is the recommendation boundary.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Hint returns the matched hint text, or ok=false when no rule applies.
func (s *Service) Hint(ctx context.Context, tenantID, tool, command string, failed bool) (hint string, ok bool, err error) {
	rules, err := s.store.Rules(ctx, tenantID)
	if err != nil {
		return "", false, fmt.Errorf("Hint: %w", err)
	}
	r := Match(rules, tool, command, failed)
	if r == nil {
		return "", false, nil
	}
	return r.Hint, true, nil
}

// Replace validates and installs a tenant's full rule set.
func (s *Service) Replace(ctx context.Context, tenantID string, rules []model.RecommendationRule) error {
	for i := range rules {
		if err := Validate(&rules[i]); err != nil {
			return fmt.Errorf("Replace: rule %d: %w", i, err)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	if err := s.store.ReplaceRules(ctx, tenantID, rules); err != nil {
		return fmt.Errorf("Replace: %w", err)
	}
	return nil
}

// ErrInvalidRule marks a rule that cannot be stored.
var ErrInvalidRule = errors.New("invalid recommendation rule")

// Validate checks a rule before it is stored.
func Validate(r *model.RecommendationRule) error {
	if strings.TrimSpace(r.ToolPattern) == "" {
		return fmt.Errorf("%w: tool pattern is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.CommandPattern) == "" {
		return fmt.Errorf("%w: command pattern is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Hint) == "" {
		return fmt.Errorf("%w: hint is required", ErrInvalidRule)
	}
	return nil
}
