package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox relay and the scheduled sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <job>",
		Short: "Run one scheduled job once and exit",
		Long: `Run one scheduled job once and exit. Jobs:
  auto_accept                accept the winning stale bid per task
  process_pending_payments   charge pending payments past the grace window
  retry_failed_payments      retry failed payments with budget left
  cleanup_pending_payments   cancel stale pending payments, purge old terminal ones
  reconcile_stuck_payments   fail payments left processing by a crash
  cleanup_bids               delete old rejected, withdrawn and cancelled bids
  purge_outbox               delete dispatched outbox events past retention`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			// Events recorded by the sweep are delivered before exiting.
			if err := app.scheduler.RunOnce(ctx, args[0]); err != nil {
				return err
			}
			_, err = app.relay.DispatchPending(ctx)
			return err
		},
	}
}
