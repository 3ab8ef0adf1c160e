package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskbid/internal/service"
	"github.com/phrazzld/taskbid/internal/task"
)

// Scheduled job names. They are also the arguments of the sweep command.
const (
	jobAutoAccept             = "auto_accept"
	jobProcessPendingPayments = "process_pending_payments"
	jobRetryFailedPayments    = "retry_failed_payments"
	jobCleanupPendingPayments = "cleanup_pending_payments"
	jobReconcileStuckPayments = "reconcile_stuck_payments"
	jobCleanupBids            = "cleanup_bids"
	jobPurgeOutbox            = "purge_outbox"
)

// sweepJob adapts a lifecycle sweep to a scheduler job. The sweeps log their
// own results; failed units are picked up again on the next tick.
func sweepJob(name string, sweep func(context.Context) (service.SweepResult, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := sweep(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func registerJobs(app *application) error {
	sc := app.config.Scheduler

	jobs := []task.Job{
		{
			Name:     jobAutoAccept,
			Interval: sc.AutoAcceptInterval,
			Run:      sweepJob(jobAutoAccept, app.bidService.ProcessAutoAcceptance),
		},
		{
			Name:     jobProcessPendingPayments,
			Interval: sc.PendingPaymentsInterval,
			Run:      sweepJob(jobProcessPendingPayments, app.paymentService.ProcessPendingPayments),
		},
		{
			Name:     jobRetryFailedPayments,
			Interval: sc.RetryInterval,
			Run:      sweepJob(jobRetryFailedPayments, app.paymentService.RetryFailedPayments),
		},
		{
			Name:     jobCleanupPendingPayments,
			Interval: sc.CleanupInterval,
			Run:      sweepJob(jobCleanupPendingPayments, app.paymentService.CleanupOldPendingPayments),
		},
		{
			Name:     jobReconcileStuckPayments,
			Interval: sc.ReconcileInterval,
			Run:      sweepJob(jobReconcileStuckPayments, app.paymentService.ReconcileStuckPayments),
		},
		{
			Name:     jobCleanupBids,
			Interval: sc.CleanupInterval,
			Run:      sweepJob(jobCleanupBids, app.bidService.CleanupOldBids),
		},
		{
			Name:     jobPurgeOutbox,
			Interval: sc.CleanupInterval,
			Run:      app.purgeOutbox,
		},
	}

	for _, job := range jobs {
		if err := app.scheduler.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// purgeOutbox deletes delivered events older than the retention window.
func (app *application) purgeOutbox(ctx context.Context) error {
	cutoff := app.clock.Now().Add(-app.config.Scheduler.OutboxRetention)
	n, err := app.store.Outbox().DeleteDispatchedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", jobPurgeOutbox, err)
	}
	if n > 0 {
		app.logger.Info("purged dispatched outbox events",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
