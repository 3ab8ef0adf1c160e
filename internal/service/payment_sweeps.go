package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/phrazzld/taskbid/internal/task"
)

// sweepOutcome classifies the error of a per-payment sweep unit. A payment
// another worker already moved on is skipped.
func sweepOutcome(err error) error {
	if errors.Is(err, ErrInvalidOperation) {
		return fmt.Errorf("%w: %v", errSkipped, err)
	}
	return err
}

func (s *PaymentServiceImpl) paymentUnits(payments []*domain.Payment, unitType string, fn func(ctx context.Context, p *domain.Payment) error) []task.Task {
	units := make([]task.Task, 0, len(payments))
	for _, p := range payments {
		p := p
		units = append(units, task.NewFuncTask(p.ID, unitType, func(ctx context.Context) error {
			return fn(ctx, p)
		}))
	}
	return units
}

func logSweep(log *slog.Logger, msg string, result SweepResult) {
	log.Info(msg,
		slog.Int("examined", result.Examined),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int64("purged", result.Purged))
}

// ProcessPendingPayments implements PaymentService.
func (s *PaymentServiceImpl) ProcessPendingPayments(ctx context.Context) (SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("sweep", unitProcessPending))

	cutoff := s.clock.Now().Add(-s.config.PendingGrace)
	pending, err := s.store.Payments().FindByStatusCreatedBefore(ctx, domain.PaymentStatusPending, cutoff, s.config.batchSize())
	if err != nil {
		return SweepResult{}, paymentError("process_pending_payments", "failed to find pending payments", err)
	}

	units := s.paymentUnits(pending, unitProcessPending, func(ctx context.Context, p *domain.Payment) error {
		_, err := s.ProcessPayment(ctx, domain.SystemCaller(), p.ID)
		return sweepOutcome(err)
	})
	result := runSweep(ctx, log, s.config.Workers, units)
	logSweep(log, "pending payment sweep finished", result)
	return result, nil
}

// RetryFailedPayments implements PaymentService.
func (s *PaymentServiceImpl) RetryFailedPayments(ctx context.Context) (SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("sweep", unitRetryFailed))

	cutoff := s.clock.Now().Add(-s.config.RetryBackoff)
	failed, err := s.store.Payments().FindRetryable(ctx, cutoff, s.config.batchSize())
	if err != nil {
		return SweepResult{}, paymentError("retry_failed_payments", "failed to find retryable payments", err)
	}

	units := s.paymentUnits(failed, unitRetryFailed, func(ctx context.Context, p *domain.Payment) error {
		_, err := s.RetryPayment(ctx, domain.SystemCaller(), p.ID)
		return sweepOutcome(err)
	})
	result := runSweep(ctx, log, s.config.Workers, units)
	logSweep(log, "retry sweep finished", result)
	return result, nil
}

// CleanupOldPendingPayments implements PaymentService.
func (s *PaymentServiceImpl) CleanupOldPendingPayments(ctx context.Context) (SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("sweep", unitCancelPending))

	now := s.clock.Now()
	stale, err := s.store.Payments().FindByStatusCreatedBefore(ctx, domain.PaymentStatusPending, now.Add(-s.config.PendingTimeout), s.config.batchSize())
	if err != nil {
		return SweepResult{}, paymentError("cleanup_old_pending_payments", "failed to find stale payments", err)
	}

	units := s.paymentUnits(stale, unitCancelPending, func(ctx context.Context, p *domain.Payment) error {
		_, err := s.CancelPayment(ctx, domain.SystemCaller(), p.ID, ReasonPendingTimeout)
		return sweepOutcome(err)
	})
	result := runSweep(ctx, log, s.config.Workers, units)

	purged, err := s.store.Payments().DeletePurgeableUpdatedBefore(ctx, now.Add(-s.config.Retention))
	if err != nil {
		return result, paymentError("cleanup_old_pending_payments", "failed to purge old payments", err)
	}
	result.Purged = purged

	logSweep(log, "payment cleanup sweep finished", result)
	return result, nil
}

// ReconcileStuckPayments implements PaymentService.
//
// A payment stays PROCESSING only if the process died between claiming it
// and recording the charge outcome. It is failed so the retry sweep picks it
// up; the retry reuses the payment ID as idempotency key, so a charge that
// did reach the provider is not taken twice.
func (s *PaymentServiceImpl) ReconcileStuckPayments(ctx context.Context) (SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("sweep", unitReconcile))

	cutoff := s.clock.Now().Add(-s.config.StuckProcessing)
	stuck, err := s.store.Payments().FindByStatusUpdatedBefore(ctx, domain.PaymentStatusProcessing, cutoff, s.config.batchSize())
	if err != nil {
		return SweepResult{}, paymentError("reconcile_stuck_payments", "failed to find stuck payments", err)
	}

	units := s.paymentUnits(stuck, unitReconcile, func(ctx context.Context, stale *domain.Payment) error {
		_, err := s.mutate(ctx, stale.ID, func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error) {
			if p.Status != domain.PaymentStatusProcessing || !p.UpdatedAt.Before(cutoff) {
				return nil, errSkipped
			}
			if err := p.Fail(ReasonProcessingInterrupted, now); err != nil {
				return nil, err
			}
			if err := tx.Payments().Update(ctx, p); err != nil {
				return nil, err
			}
			if p.Type == domain.PaymentTypeRefund && p.RefundOfID != nil {
				return s.failInterruptedRefund(ctx, tx, *p.RefundOfID, now)
			}
			return paymentEvent(events.PaymentFailed, p, now)
		})
		if err == nil {
			log.Warn("failed stuck payment", slog.String("payment_id", stale.ID.String()))
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return errSkipped
		}
		return err
	})
	result := runSweep(ctx, log, s.config.Workers, units)
	logSweep(log, "stuck payment sweep finished", result)
	return result, nil
}

// failInterruptedRefund moves the original of an interrupted refund to
// REFUND_FAILED. Refunds are never retried automatically.
func (s *PaymentServiceImpl) failInterruptedRefund(ctx context.Context, tx store.Store, originalID uuid.UUID, now time.Time) ([]*events.Event, error) {
	original, err := tx.Payments().GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.PaymentStatusRefundPending {
		return nil, nil
	}
	if err := original.FailRefund(ReasonProcessingInterrupted); err != nil {
		return nil, err
	}
	if err := tx.Payments().Update(ctx, original); err != nil {
		return nil, err
	}
	return paymentEvent(events.PaymentRefundFailed, original, now)
}
