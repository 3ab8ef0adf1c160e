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

const paymentColumns = `
	id, customer_id, tasker_id, task_id, bid_id, refund_of_id, amount, fee_percentage,
	service_fee, net_amount, refunded_amount, currency, payment_method, payment_type,
	status, description, external_transaction_id, retry_count, max_retries, failure_reason,
	created_at, updated_at, processed_at, completed_at, failed_at, refunded_at, version`

// activePaymentPredicate selects task payments that block a new one for the same bid.
const activePaymentPredicate = `
	payment_type = 'task_payment'
	AND (status IN ('pending', 'processing', 'completed', 'retry_pending', 'refund_pending', 'refund_failed')
	     OR (status = 'failed' AND retry_count < max_retries))`

// PostgresPaymentStore implements the store.PaymentStore interface
// using a PostgreSQL database as the storage backend.
type PostgresPaymentStore struct {
	db     store.DBTX
	clock  clock.Clock
	logger *slog.Logger
}

// NewPostgresPaymentStore creates a new PostgreSQL implementation of the PaymentStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresPaymentStore(db store.DBTX, clk clock.Clock, logger *slog.Logger) *PostgresPaymentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPaymentStore{
		db:     db,
		clock:  clk,
		logger: logger.With(slog.String("component", "payment_store")),
	}
}

// Ensure PostgresPaymentStore implements store.PaymentStore interface
var _ store.PaymentStore = (*PostgresPaymentStore)(nil)

// WithTx returns a new payment store instance that uses the provided transaction.
func (s *PostgresPaymentStore) WithTx(tx *sql.Tx) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: tx, clock: s.clock, logger: s.logger}
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.CustomerID,
		&p.TaskerID,
		&p.TaskID,
		&p.BidID,
		&p.RefundOfID,
		&p.Amount,
		&p.FeePercentage,
		&p.ServiceFee,
		&p.NetAmount,
		&p.RefundedAmount,
		&p.Currency,
		&p.Method,
		&p.Type,
		&p.Status,
		&p.Description,
		&p.ExternalTransactionID,
		&p.RetryCount,
		&p.MaxRetries,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ProcessedAt,
		&p.CompletedAt,
		&p.FailedAt,
		&p.RefundedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresPaymentStore) queryPayments(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return payments, nil
}

// Create implements store.PaymentStore.Create
func (s *PostgresPaymentStore) Create(ctx context.Context, p *domain.Payment) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := s.clock.Now()
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, 1)`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.CustomerID,
		p.TaskerID,
		p.TaskID,
		p.BidID,
		p.RefundOfID,
		p.Amount,
		p.FeePercentage,
		p.ServiceFee,
		p.NetAmount,
		p.RefundedAmount,
		p.Currency,
		p.Method,
		p.Type,
		p.Status,
		p.Description,
		p.ExternalTransactionID,
		p.RetryCount,
		p.MaxRetries,
		p.FailureReason,
		now,
		now,
		p.ProcessedAt,
		p.CompletedAt,
		p.FailedAt,
		p.RefundedAt,
	)
	if err != nil {
		mapped := MapError(err)
		if !store.IsDuplicateError(mapped) {
			log.Error("failed to create payment",
				slog.String("error", err.Error()),
				slog.String("payment_id", p.ID.String()))
		}
		return mapped
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	p.Version = 1
	return nil
}

// GetByID implements store.PaymentStore.GetByID
func (s *PostgresPaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPaymentNotFound
		}
		return nil, MapError(err)
	}
	return p, nil
}

// Update implements store.PaymentStore.Update
func (s *PostgresPaymentStore) Update(ctx context.Context, p *domain.Payment) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := s.clock.Now()
	query := `
		UPDATE payments SET
			status = $3, refunded_amount = $4, description = $5, external_transaction_id = $6,
			retry_count = $7, max_retries = $8, failure_reason = $9, processed_at = $10,
			completed_at = $11, failed_at = $12, refunded_at = $13, updated_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $2`
	result, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Version,
		p.Status,
		p.RefundedAmount,
		p.Description,
		p.ExternalTransactionID,
		p.RetryCount,
		p.MaxRetries,
		p.FailureReason,
		p.ProcessedAt,
		p.CompletedAt,
		p.FailedAt,
		p.RefundedAt,
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
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return MapError(err)
		}
		if !exists {
			return store.ErrPaymentNotFound
		}
		log.Debug("payment version conflict",
			slog.String("payment_id", p.ID.String()),
			slog.Int64("expected_version", p.Version))
		return fmt.Errorf("%w: payment %s at version %d", store.ErrVersionConflict, p.ID, p.Version)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

// ExistsActiveForBid implements store.PaymentStore.ExistsActiveForBid
func (s *PostgresPaymentStore) ExistsActiveForBid(ctx context.Context, bidID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM payments WHERE bid_id = $1 AND `+activePaymentPredicate+`)`,
		bidID,
	).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	return exists, nil
}

// ListByBid implements store.PaymentStore.ListByBid
func (s *PostgresPaymentStore) ListByBid(ctx context.Context, bidID uuid.UUID) ([]*domain.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE bid_id = $1 ORDER BY created_at, id`,
		bidID)
}

// GetByExternalTransactionID implements store.PaymentStore.GetByExternalTransactionID
func (s *PostgresPaymentStore) GetByExternalTransactionID(ctx context.Context, externalID string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_transaction_id = $1
		 ORDER BY created_at LIMIT 1`, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPaymentNotFound
		}
		return nil, MapError(err)
	}
	return p, nil
}

func (s *PostgresPaymentStore) listByParty(
	ctx context.Context,
	column string,
	partyID uuid.UUID,
	statuses []domain.PaymentStatus,
) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = $1`
	args := []any{partyID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at DESC, id`
	return s.queryPayments(ctx, query, args...)
}

// ListByCustomer implements store.PaymentStore.ListByCustomer
func (s *PostgresPaymentStore) ListByCustomer(ctx context.Context, customerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error) {
	return s.listByParty(ctx, "customer_id", customerID, statuses)
}

// ListByTasker implements store.PaymentStore.ListByTasker
func (s *PostgresPaymentStore) ListByTasker(ctx context.Context, taskerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error) {
	return s.listByParty(ctx, "tasker_id", taskerID, statuses)
}

// FindByStatusCreatedBefore implements store.PaymentStore.FindByStatusCreatedBefore
func (s *PostgresPaymentStore) FindByStatusCreatedBefore(
	ctx context.Context,
	status domain.PaymentStatus,
	before time.Time,
	limit int,
) ([]*domain.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, id LIMIT $3`,
		status, before, limit)
}

// FindByStatusUpdatedBefore implements store.PaymentStore.FindByStatusUpdatedBefore
func (s *PostgresPaymentStore) FindByStatusUpdatedBefore(
	ctx context.Context,
	status domain.PaymentStatus,
	before time.Time,
	limit int,
) ([]*domain.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at, id LIMIT $3`,
		status, before, limit)
}

// FindRetryable implements store.PaymentStore.FindRetryable
func (s *PostgresPaymentStore) FindRetryable(ctx context.Context, failedBefore time.Time, limit int) ([]*domain.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'failed' AND retry_count < max_retries AND failed_at < $1
		 ORDER BY failed_at, id LIMIT $2`,
		failedBefore, limit)
}

// DeletePurgeableUpdatedBefore implements store.PaymentStore.DeletePurgeableUpdatedBefore
func (s *PostgresPaymentStore) DeletePurgeableUpdatedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM payments
		 WHERE updated_at < $1
		   AND (status IN ('refunded', 'cancelled') OR (status = 'failed' AND retry_count >= max_retries))`,
		before)
	if err != nil {
		return 0, MapError(err)
	}
	return rowsAffected(result)
}
