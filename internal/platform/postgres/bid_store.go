package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/store"
)

const bidColumns = `
	id, task_id, tasker_id, customer_id, amount, message, status, estimated_hours,
	status_reason, accepted_at, rejected_at, withdrawn_at, completed_at, cancelled_at,
	created_at, updated_at, version`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresBidStore implements the store.BidStore interface
// using a PostgreSQL database as the storage backend.
type PostgresBidStore struct {
	db     store.DBTX
	clock  clock.Clock
	logger *slog.Logger
}

// NewPostgresBidStore creates a new PostgreSQL implementation of the BidStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresBidStore(db store.DBTX, clk clock.Clock, logger *slog.Logger) *PostgresBidStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresBidStore{
		db:     db,
		clock:  clk,
		logger: logger.With(slog.String("component", "bid_store")),
	}
}

// Ensure PostgresBidStore implements store.BidStore interface
var _ store.BidStore = (*PostgresBidStore)(nil)

// WithTx returns a new bid store instance that uses the provided transaction.
func (s *PostgresBidStore) WithTx(tx *sql.Tx) *PostgresBidStore {
	return &PostgresBidStore{db: tx, clock: s.clock, logger: s.logger}
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(
		&b.ID,
		&b.TaskID,
		&b.TaskerID,
		&b.CustomerID,
		&b.Amount,
		&b.Message,
		&b.Status,
		&b.EstimatedHours,
		&b.StatusReason,
		&b.AcceptedAt,
		&b.RejectedAt,
		&b.WithdrawnAt,
		&b.CompletedAt,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresBidStore) queryBids(ctx context.Context, query string, args ...any) ([]*domain.Bid, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return bids, nil
}

// Create implements store.BidStore.Create
func (s *PostgresBidStore) Create(ctx context.Context, bid *domain.Bid) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := bid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := s.clock.Now()
	query := `INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`
	_, err := s.db.ExecContext(ctx, query,
		bid.ID,
		bid.TaskID,
		bid.TaskerID,
		bid.CustomerID,
		bid.Amount,
		bid.Message,
		bid.Status,
		bid.EstimatedHours,
		bid.StatusReason,
		bid.AcceptedAt,
		bid.RejectedAt,
		bid.WithdrawnAt,
		bid.CompletedAt,
		bid.CancelledAt,
		now,
		now,
	)
	if err != nil {
		mapped := MapError(err)
		if !store.IsDuplicateError(mapped) {
			log.Error("failed to create bid",
				slog.String("error", err.Error()),
				slog.String("bid_id", bid.ID.String()))
		}
		return mapped
	}

	bid.CreatedAt = now
	bid.UpdatedAt = now
	bid.Version = 1

	log.Debug("bid created",
		slog.String("bid_id", bid.ID.String()),
		slog.String("task_id", bid.TaskID.String()))
	return nil
}

// GetByID implements store.BidStore.GetByID
func (s *PostgresBidStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	bid, err := scanBid(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBidNotFound
		}
		return nil, MapError(err)
	}
	return bid, nil
}

// Update implements store.BidStore.Update
func (s *PostgresBidStore) Update(ctx context.Context, bid *domain.Bid) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := bid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := s.clock.Now()
	query := `
		UPDATE bids SET
			amount = $3, message = $4, status = $5, estimated_hours = $6, status_reason = $7,
			accepted_at = $8, rejected_at = $9, withdrawn_at = $10, completed_at = $11,
			cancelled_at = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2`
	result, err := s.db.ExecContext(ctx, query,
		bid.ID,
		bid.Version,
		bid.Amount,
		bid.Message,
		bid.Status,
		bid.EstimatedHours,
		bid.StatusReason,
		bid.AcceptedAt,
		bid.RejectedAt,
		bid.WithdrawnAt,
		bid.CompletedAt,
		bid.CancelledAt,
		now,
	)
	if err != nil {
		return MapError(err)
	}

	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bids WHERE id = $1)`, bid.ID).Scan(&exists); err != nil {
			return MapError(err)
		}
		if !exists {
			return store.ErrBidNotFound
		}
		log.Debug("bid version conflict",
			slog.String("bid_id", bid.ID.String()),
			slog.Int64("expected_version", bid.Version))
		return fmt.Errorf("%w: bid %s at version %d", store.ErrVersionConflict, bid.ID, bid.Version)
	}

	bid.Version++
	bid.UpdatedAt = now
	return nil
}

// ExistsForTaskAndTasker implements store.BidStore.ExistsForTaskAndTasker
func (s *PostgresBidStore) ExistsForTaskAndTasker(ctx context.Context, taskID, taskerID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bids WHERE task_id = $1 AND tasker_id = $2)`,
		taskID, taskerID,
	).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	return exists, nil
}

// LockTask implements store.BidStore.LockTask
func (s *PostgresBidStore) LockTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Bid, error) {
	return s.queryBids(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE task_id = $1 ORDER BY created_at, id FOR UPDATE`,
		taskID)
}

// ListByTask implements store.BidStore.ListByTask
func (s *PostgresBidStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Bid, error) {
	return s.queryBids(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE task_id = $1 ORDER BY created_at, id`,
		taskID)
}

// FindPendingCreatedBefore implements store.BidStore.FindPendingCreatedBefore
func (s *PostgresBidStore) FindPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Bid, error) {
	return s.queryBids(ctx,
		`SELECT `+bidColumns+` FROM bids
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, id LIMIT $3`,
		domain.BidStatusPending, before, limit)
}

// DeleteTerminalUpdatedBefore implements store.BidStore.DeleteTerminalUpdatedBefore
func (s *PostgresBidStore) DeleteTerminalUpdatedBefore(ctx context.Context, before time.Time) (int64, error) {
	statuses := make([]string, len(domain.PurgeableBidStatuses))
	for i, st := range domain.PurgeableBidStatuses {
		statuses[i] = string(st)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM bids WHERE status = ANY($1) AND updated_at < $2`,
		statuses, before)
	if err != nil {
		return 0, MapError(err)
	}
	return rowsAffected(result)
}
