package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ANALYTICS_DB_DRIVER", "ANALYTICS_DB_DSN", "POSTGRES_DSN", "ANALYTICS_SESSION_GAP_MIN", "ANALYTICS_INFER_WORKERS"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.DBDriver != "pgx" || cfg.HTTPPort != "8080" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionGap != 30*time.Minute {
		t.Errorf("expected 30m gap, got %v", cfg.SessionGap)
	}
	if cfg.Sanitizer().MaxClockSkew != 5*time.Minute || cfg.Sanitizer().ErrorTextMax != 256 {
		t.Errorf("unexpected sanitizer limits %+v", cfg.Sanitizer())
	}
	if err := cfg.Validate(); err == nil {
		t.Error("missing DSN should fail validation")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ANALYTICS_DB_DRIVER", "sqlite")
	t.Setenv("ANALYTICS_DB_DSN", "")
	t.Setenv("POSTGRES_DSN", "/tmp/a.db")
	t.Setenv("ANALYTICS_SESSION_GAP_MIN", "45")
	t.Setenv("ANALYTICS_INFER_WORKERS", "not-a-number")

	cfg := FromEnv()
	if cfg.DBDSN != "/tmp/a.db" {
		t.Errorf("POSTGRES_DSN should be the fallback DSN, got %q", cfg.DBDSN)
	}
	if cfg.Inference().Gap != 45*time.Minute {
		t.Errorf("expected 45m gap, got %v", cfg.Inference().Gap)
	}
	if cfg.InferWorkers != 4 {
		t.Errorf("unparsable int should fall back to default, got %d", cfg.InferWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_Driver(t *testing.T) {
	cfg := Config{DBDriver: "mysql", DBDSN: "x", SessionGap: time.Minute, InferWorkers: 1, InferBatchLimit: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("mysql should be rejected")
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("embedded catalog must parse: %v", err)
	}
	if len(c.Templates) == 0 || len(c.Rules) == 0 {
		t.Fatal("embedded catalog should not be empty")
	}
	if c.Templates[0].Name != "onboarding" {
		t.Errorf("template order must be preserved, got %s first", c.Templates[0].Name)
	}
	var cfg *model.WorkflowTemplate
	for i := range c.Templates {
		if c.Templates[i].Name == "config_change" {
			cfg = &c.Templates[i]
		}
	}
	if cfg == nil || cfg.Steps[1].Kind != model.StepWildcard {
		t.Errorf("\"*\" should decode as a wildcard step, got %+v", cfg)
	}
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "templates: []\nrulez: []\n",
			want: "rulez",
		},
		{
			name: "duplicate template",
			yaml: "templates:\n  - {name: a, steps: [x]}\n  - {name: a, steps: [y]}\n",
			want: "duplicate",
		},
		{
			name: "reserved name",
			yaml: "templates:\n  - {name: unmatched, steps: [x]}\n",
			want: "reserved",
		},
		{
			name: "no steps",
			yaml: "templates:\n  - {name: a, steps: []}\n",
			want: "no steps",
		},
		{
			name: "empty step",
			yaml: "templates:\n  - {name: a, steps: [\"\"]}\n",
			want: "empty step",
		},
		{
			name: "rule without hint",
			yaml: "rules:\n  - {tool: mycli, command: deploy}\n",
			want: "hint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "templates:\n  - name: ship\n    steps: [build, \"*\", deploy]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Templates) != 1 || len(c.Templates[0].Steps) != 3 {
		t.Errorf("unexpected catalog %+v", c)
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}
}
