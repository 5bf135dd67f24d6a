package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-request-workflow/internal/app"
	"github.com/pesio-ai/be-request-workflow/internal/platform/config"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// cliEnv is the state shared by every subcommand.
type cliEnv struct {
	driver string
	cfg    *config.Config
	log    *logger.Logger
	stores *app.Stores
}

// services builds the resolver and identity registry over the open stores.
func (rt *cliEnv) services(ctx context.Context) (*service.BindingsResolver, *service.IdentityRegistry, error) {
	resolver := service.NewBindingsResolver(rt.stores.Users, rt.cfg.Workflow.GeneralApproverUsername, rt.log.Component("bindings"))
	if _, err := resolver.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	registry := service.NewIdentityRegistry(rt.stores.Users, rt.stores.Approvers, resolver, rt.log.Component("identity"))
	return resolver, registry, nil
}

// open loads configuration and connects storage.
func (rt *cliEnv) open(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if rt.driver != "" {
		cfg.Database.Driver = strings.ToLower(rt.driver)
	}
	rt.cfg = cfg
	rt.log = logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "workflowctl",
		Version:     cfg.Service.Version,
		Output:      os.Stderr,
	})

	stores, err := app.OpenStores(ctx, cfg.Database, migrate, rt.log)
	if err != nil {
		return err
	}
	rt.stores = stores
	return nil
}

func (rt *cliEnv) close() {
	if rt.stores != nil {
		rt.stores.Close()
	}
}

func newRootCmd() *cobra.Command {
	rt := &cliEnv{}

	root := &cobra.Command{
		Use:   "workflowctl <command>",
		Short: "Administrative tasks for the request workflow service",
		Long: `workflowctl applies the database schema, seeds sample accounts and
rebuilds the request flow projection. Connection settings come from the same
environment variables (and optional .env file) as the server.`,
		SilenceUsage: true,
		Example: `  # Create tables and indexes
  $ workflowctl migrate
  # Create the sample users and department approvers
  $ workflowctl seed
  # Recompute every request's approval timeline
  $ workflowctl backfill-flow`,
	}
	root.PersistentFlags().StringVar(&rt.driver, "driver", "", "storage driver override (postgres|memory)")

	root.AddCommand(newMigrateCmd(rt))
	root.AddCommand(newSeedCmd(rt))
	root.AddCommand(newBackfillFlowCmd(rt))
	return root
}
