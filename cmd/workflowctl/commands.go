package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-request-workflow/internal/app"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

func newMigrateCmd(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.open(cmd.Context(), true); err != nil {
				return err
			}
			defer rt.close()

			if rt.cfg.Database.Driver == "memory" {
				fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema; nothing to do")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newSeedCmd(rt *cliEnv) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample users and department approvers",
		Long: `seed creates the sample admin, general approver, one approver per
department and a regular user, then assigns each department its approver.
Existing users and departments with an active approver are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.open(cmd.Context(), migrate); err != nil {
				return err
			}
			defer rt.close()

			_, registry, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			report, err := app.Seed(cmd.Context(), rt.stores.Users, registry, rt.log.Component("seed"))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "users: %d created, %d skipped\n", report.UsersCreated, report.UsersSkipped)
			fmt.Fprintf(cmd.OutOrStdout(), "department approvers: %d assigned, %d skipped\n", report.ApproversAssigned, report.ApproversSkipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before seeding")
	return cmd
}

func newBackfillFlowCmd(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-flow",
		Short: "Rebuild the approval timeline of every request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.open(cmd.Context(), false); err != nil {
				return err
			}
			defer rt.close()

			resolver, _, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			projection := service.NewFlowProjection(
				rt.stores.Users, rt.stores.Approvers, rt.stores.Requests, rt.stores.Flow, resolver,
				rt.log.Component("flow"),
			)
			report, err := projection.RebuildAll(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "requests: %d, inserted: %d, updated: %d, skipped: %d\n",
				report.Requests, report.Inserted, report.Updated, report.Skipped)
			return nil
		},
	}
}
