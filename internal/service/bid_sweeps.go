package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/task"
)

// Task types of sweep units, used in logs.
const (
	unitAutoAccept     = "auto_accept"
	unitProcessPending = "process_pending_payment"
	unitRetryFailed    = "retry_failed_payment"
	unitCancelPending  = "cancel_stale_payment"
	unitReconcile      = "reconcile_stuck_payment"
)

// errSkipped marks a sweep unit that found nothing to do.
var errSkipped = errors.New("skipped")

// runSweep fans units out over a worker pool. A unit returning errSkipped
// counts as skipped, any other error as failed.
func runSweep(ctx context.Context, log *slog.Logger, workers int, units []task.Task) SweepResult {
	var skipped skipCounter
	wrapped := make([]task.Task, len(units))
	for i, u := range units {
		u := u
		wrapped[i] = task.NewFuncTask(u.ID(), u.Type(), func(ctx context.Context) error {
			err := u.Execute(ctx)
			if errors.Is(err, errSkipped) {
				skipped.inc()
				return nil
			}
			return err
		})
	}

	batch := task.RunBatch(ctx, wrapped, workers, log)
	n := skipped.load()
	return SweepResult{
		Examined:  batch.Total,
		Succeeded: batch.Succeeded - n,
		Skipped:   n,
		Failed:    batch.Failed,
	}
}

// selectWinner picks the bid to auto-accept. bids must be non-empty.
func selectWinner(bids []*domain.Bid, policy AutoAcceptPolicy) *domain.Bid {
	sorted := make([]*domain.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if policy == PolicyLowestAmount && !a.Amount.Equal(b.Amount) {
			return a.Amount.LessThan(b.Amount)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return sorted[0]
}

// ProcessAutoAcceptance implements BidService.
func (s *BidServiceImpl) ProcessAutoAcceptance(ctx context.Context) (SweepResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("sweep", unitAutoAccept))

	cutoff := s.clock.Now().Add(-s.config.AutoAcceptAge)
	candidates, err := s.store.Bids().FindPendingCreatedBefore(ctx, cutoff, s.config.batchSize())
	if err != nil {
		return SweepResult{}, bidError("process_auto_acceptance", "failed to find pending bids", err)
	}

	// One unit per task; candidates sharing a task collapse in the queue.
	units := make([]task.Task, 0, len(candidates))
	for _, b := range candidates {
		taskID := b.TaskID
		units = append(units, task.NewFuncTask(taskID, unitAutoAccept, func(ctx context.Context) error {
			return s.autoAcceptTask(ctx, taskID, cutoff)
		}))
	}

	result := runSweep(ctx, log, s.config.Workers, units)
	log.Info("auto-acceptance sweep finished",
		slog.Int("tasks", result.Examined),
		slog.Int("accepted", result.Succeeded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *BidServiceImpl) autoAcceptTask(ctx context.Context, taskID uuid.UUID, cutoff time.Time) error {
	info, err := s.gateway.GetTaskInfo(ctx, taskID)
	if errors.Is(err, gateway.ErrNotFound) {
		return errSkipped
	}
	if err != nil {
		return err
	}
	if !info.Status.AcceptsBids() {
		return errSkipped
	}

	bids, err := s.store.Bids().ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	var eligible []*domain.Bid
	for _, b := range bids {
		if b.Status == domain.BidStatusAccepted {
			return errSkipped
		}
		if b.Status == domain.BidStatusPending && b.CreatedAt.Before(cutoff) {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return errSkipped
	}

	winner := selectWinner(eligible, s.config.AutoAcceptPolicy)
	_, err = s.AcceptBid(ctx, domain.SystemCaller(), winner.ID)
	if errors.Is(err, ErrInvalidOperation) {
		// Lost a race with an interactive accept.
		return errSkipped
	}
	return err
}

// CleanupOldBids implements BidService.
func (s *BidServiceImpl) CleanupOldBids(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock.Now().Add(-s.config.Retention)
	n, err := s.store.Bids().DeleteTerminalUpdatedBefore(ctx, cutoff)
	if err != nil {
		return SweepResult{}, bidError("cleanup_old_bids", "failed to delete old bids", err)
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("purged terminal bids", slog.Int64("count", n))
	}
	return SweepResult{Purged: n}, nil
}
