package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/cli-analytics/internal/config"
	"github.com/triage-ai/cli-analytics/internal/inference"
)

func newInferCmd(a *app) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run one inference pass",
		Long: `Sessionize unprocessed events, detect workflows and classify outcomes.

Without --tenant every tenant with pending work is processed. The pass
counts are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			res, runErr := inference.NewRunner(st, a.cfg.Inference(), a.logger).Run(ctx, tenantID)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Only process this tenant id")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", st.Dialect())
			return nil
		},
	}
}

func newTenantsCmd(a *app) *cobra.Command {
	tenants := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants and their API keys",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tenant seeded from the workflow catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			catalog, err := config.LoadCatalog(a.cfg.CatalogPath)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			t, key, err := st.CreateTenant(ctx, args[0], catalog.Templates, catalog.Rules)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tenant_id: %s\n", t.ID)
			fmt.Fprintf(out, "api_key:   %s\n", key)
			fmt.Fprintln(out, "The API key is shown only once.")
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			all, err := st.ListTenants(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKEY PREFIX\tCREATED")
			for _, t := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.APIKeyPrefix, t.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate-key <tenant-id>",
		Short: "Issue a new API key; the old one stops working",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			t, key, err := st.RotateAPIKey(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("tenant %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api_key: %s\n", key)
			return nil
		},
	}

	tenants.AddCommand(create, list, rotate)
	return tenants
}

func newCatalogCmd(a *app) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Workflow template and recommendation rule catalog",
	}
	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a catalog file (default $ANALYTICS_CATALOG or the built-in catalog)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.CatalogPath
			if len(args) == 1 {
				path = args[0]
			}
			c, err := config.LoadCatalog(path)
			if err != nil {
				return err
			}
			if len(c.Templates) == 0 {
				return errors.New("catalog has no workflow templates")
			}
			src := path
			if src == "" {
				src = "built-in catalog"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d templates, %d rules OK\n", src, len(c.Templates), len(c.Rules))
			return nil
		},
	}
	catalog.AddCommand(validate)
	return catalog
}
