package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/triage-ai/cli-analytics/internal/config"
	"github.com/triage-ai/cli-analytics/internal/store"
	"go.uber.org/zap"
)

// app carries what every subcommand shares. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "analytics-server",
		Short: "Workflow analytics for CLI tools",
		Long: `analytics-server ingests CLI command telemetry, groups it into sessions,
detects workflows, and serves reports, experiments and recommendations.

Configuration comes from ANALYTICS_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg = config.FromEnv()
			level := a.logLevel
			if level == "" {
				level = a.cfg.LogLevel
			}
			a.logger = mustBuildLogger(level)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error (default $ANALYTICS_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(a),
		newInferCmd(a),
		newMigrateCmd(a),
		newTenantsCmd(a),
		newCatalogCmd(a),
	)
	return root
}

// openStore connects to the configured database and applies migrations.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, a.cfg.DBDriver, a.cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}
