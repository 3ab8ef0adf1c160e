package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/store"
)

// Store implements store.Store on a PostgreSQL database. A Store returned
// by NewStore opens a transaction per RunInTx; the Store handed to the
// callback is bound to that transaction.
type Store struct {
	db       *sql.DB
	bids     *PostgresBidStore
	payments *PostgresPaymentStore
	outbox   *PostgresOutboxStore
}

// NewStore creates a Store on db. If logger is nil, a default logger will be used.
func NewStore(db *sql.DB, clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		bids:     NewPostgresBidStore(db, clk, logger),
		payments: NewPostgresPaymentStore(db, clk, logger),
		outbox:   NewPostgresOutboxStore(db, logger),
	}
}

var _ store.Store = (*Store)(nil)

// Bids implements store.Store.
func (s *Store) Bids() store.BidStore { return s.bids }

// Payments implements store.Store.
func (s *Store) Payments() store.PaymentStore { return s.payments }

// Outbox implements store.Store.
func (s *Store) Outbox() store.OutboxStore { return s.outbox }

// RunInTx implements store.Store. Row locks taken by BidStore.LockTask are
// held until the transaction ends.
func (s *Store) RunInTx(ctx context.Context, fn store.TxStoreFn) error {
	if s.db == nil {
		return fn(ctx, s)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &Store{
			bids:     s.bids.WithTx(tx),
			payments: s.payments.WithTx(tx),
			outbox:   s.outbox.WithTx(tx),
		})
	})
}
