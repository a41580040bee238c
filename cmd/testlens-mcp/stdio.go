package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/testlens-dev/testlens-mcp/resources"
)

func newStdioCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single MCP session over stdin/stdout",
		Long: `Serve a single MCP session over stdin/stdout. The platform credential
comes from TESTLENS_API_TOKEN; nothing is read from the MCP handshake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.APIToken == "" {
				return fmt.Errorf("TESTLENS_API_TOKEN is required in stdio mode")
			}
			return runStdio(cmd.Context(), cfg)
		},
	}
	return cmd
}

func runStdio(ctx context.Context, cfg Config) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	reconciler := resources.NewReconciler(a.store, a.api, a.refresher, cfg.ReconcileInterval, a.log)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.ErrorContext(ctx, "reconciler stopped", "error", err)
		}
	}()

	return a.facade.RunStdio(ctx, cfg.APIToken)
}
