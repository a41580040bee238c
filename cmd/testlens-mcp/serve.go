package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/testlens-dev/testlens-mcp/resources"
)

func newServeCommand() *cobra.Command {
	var listen string
	var reconcileInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over streamable HTTP with background cache reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("reconcile-interval") {
				cfg.ReconcileInterval = reconcileInterval
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:8712", "listen address for the MCP endpoint")
	cmd.Flags().DurationVar(&reconcileInterval, "reconcile-interval", 30*time.Second, "interval between cache staleness sweeps")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
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

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.facade.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.InfoContext(ctx, "listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		a.log.InfoContext(ctx, "shut down cleanly")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
