package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/recommend"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog holds the templates and rules seeded into a new tenant.
type Catalog struct {
	Templates []model.WorkflowTemplate   `yaml:"templates"`
	Rules     []model.RecommendationRule `yaml:"rules"`
}

// DefaultCatalog returns the catalog shipped with the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadCatalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("LoadCatalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates catalog YAML. Unknown keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("ParseCatalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every template and rule.
func (c *Catalog) Validate() error {
	if err := ValidateTemplates(c.Templates); err != nil {
		return err
	}
	for i := range c.Rules {
		if err := recommend.Validate(&c.Rules[i]); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// ValidateTemplates checks each template and requires unique names.
func ValidateTemplates(templates []model.WorkflowTemplate) error {
	seen := make(map[string]bool, len(templates))
	for i := range templates {
		t := &templates[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("template %d: %w", i, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("template %d: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
