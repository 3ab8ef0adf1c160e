package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/store"
)

// PostgresOutboxStore implements the store.OutboxStore interface on the
// outbox_events table.
type PostgresOutboxStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresOutboxStore creates a new PostgreSQL implementation of the OutboxStore interface.
func NewPostgresOutboxStore(db store.DBTX, logger *slog.Logger) *PostgresOutboxStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresOutboxStore{
		db:     db,
		logger: logger.With(slog.String("component", "outbox_store")),
	}
}

// Ensure PostgresOutboxStore implements store.OutboxStore interface
var _ store.OutboxStore = (*PostgresOutboxStore)(nil)

// WithTx returns a new outbox store instance that uses the provided transaction.
func (s *PostgresOutboxStore) WithTx(tx *sql.Tx) *PostgresOutboxStore {
	return &PostgresOutboxStore{db: tx, logger: s.logger}
}

// Append implements store.OutboxStore.Append
func (s *PostgresOutboxStore) Append(ctx context.Context, evts ...*events.Event) error {
	const query = `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, e := range evts {
		_, err := s.db.ExecContext(ctx, query,
			e.ID, e.AggregateType, e.AggregateID, e.Type, []byte(e.Payload), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append %s event: %w", e.Type, MapError(err))
		}
	}
	return nil
}

// ListUndispatched implements store.OutboxStore.ListUndispatched
func (s *PostgresOutboxStore) ListUndispatched(ctx context.Context, maxAttempts, limit int) ([]*events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, created_at, attempts
		FROM outbox_events
		WHERE dispatched_at IS NULL AND attempts < $1
		ORDER BY created_at, id
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*events.Event
	for rows.Next() {
		var e events.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateType, &e.AggregateID, &payload, &e.CreatedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = payload
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *PostgresOutboxStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrEventNotFound
	}
	return nil
}

// MarkDispatched implements store.OutboxStore.MarkDispatched
func (s *PostgresOutboxStore) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.exec(ctx, `UPDATE outbox_events SET dispatched_at = $2, last_error = NULL WHERE id = $1`, id, at)
}

// MarkFailed implements store.OutboxStore.MarkFailed
func (s *PostgresOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
}

// DeleteDispatchedBefore implements store.OutboxStore.DeleteDispatchedBefore
func (s *PostgresOutboxStore) DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE dispatched_at IS NOT NULL AND dispatched_at < $1`, before)
	if err != nil {
		return 0, MapError(err)
	}
	return rowsAffected(result)
}
