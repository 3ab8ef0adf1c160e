package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
)

// BidStore defines the interface for bid persistence.
//
// Create and Update own the bookkeeping fields: Create sets CreatedAt,
// UpdatedAt and Version=1; Update writes only if the stored version equals
// bid.Version, then increments bid.Version and refreshes UpdatedAt.
type BidStore interface {
	// Create saves a new bid.
	// Returns ErrBidExists if the tasker already bid on the task.
	Create(ctx context.Context, bid *domain.Bid) error

	// GetByID retrieves a bid by its unique ID.
	// Returns ErrBidNotFound if the bid does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Bid, error)

	// Update persists a bid's new state using a compare-and-swap on Version.
	// Returns ErrVersionConflict if the stored version has moved and
	// ErrBidNotFound if the row is gone. Returns ErrAcceptedBidExists if the
	// write would leave two accepted bids on one task.
	Update(ctx context.Context, bid *domain.Bid) error

	// ExistsForTaskAndTasker reports whether the tasker already bid on the task.
	ExistsForTaskAndTasker(ctx context.Context, taskID, taskerID uuid.UUID) (bool, error)

	// LockTask locks every bid of the task until the enclosing transaction
	// ends and returns them ordered by creation time. Concurrent accepts on
	// the same task serialize here.
	// IMPORTANT: only meaningful inside RunInTx.
	LockTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Bid, error)

	// ListByTask returns the task's bids ordered by creation time.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Bid, error)

	// FindPendingCreatedBefore returns up to limit pending bids created
	// before the given time, oldest first.
	FindPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Bid, error)

	// DeleteTerminalUpdatedBefore removes rejected, withdrawn and cancelled
	// bids last updated before the given time. Returns the number removed.
	DeleteTerminalUpdatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PaymentStore defines the interface for payment persistence. The
// bookkeeping rules of BidStore apply to Create and Update.
type PaymentStore interface {
	// Create saves a new payment.
	// Returns ErrActivePaymentExists if the payment is a task payment and
	// its bid already has one that blocks new task payments.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its unique ID.
	// Returns ErrPaymentNotFound if the payment does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// Update persists a payment's new state using a compare-and-swap on Version.
	// Returns ErrVersionConflict or ErrPaymentNotFound.
	Update(ctx context.Context, payment *domain.Payment) error

	// ExistsActiveForBid reports whether the bid has a task payment that
	// blocks the creation of another one.
	ExistsActiveForBid(ctx context.Context, bidID uuid.UUID) (bool, error)

	// ListByBid returns every payment referencing the bid, oldest first.
	ListByBid(ctx context.Context, bidID uuid.UUID) ([]*domain.Payment, error)

	// GetByExternalTransactionID retrieves a payment by its provider transaction ID.
	// Returns ErrPaymentNotFound if none matches.
	GetByExternalTransactionID(ctx context.Context, externalID string) (*domain.Payment, error)

	// ListByCustomer returns the customer's payments, newest first. An empty
	// statuses slice means any status.
	ListByCustomer(ctx context.Context, customerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error)

	// ListByTasker returns payments to the tasker, newest first. An empty
	// statuses slice means any status.
	ListByTasker(ctx context.Context, taskerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error)

	// FindByStatusCreatedBefore returns up to limit payments in the status
	// created before the given time, oldest first.
	FindByStatusCreatedBefore(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error)

	// FindByStatusUpdatedBefore returns up to limit payments in the status
	// not touched since the given time, oldest first.
	FindByStatusUpdatedBefore(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error)

	// FindRetryable returns up to limit failed payments with retry budget
	// left whose last failure happened before the given time.
	FindRetryable(ctx context.Context, failedBefore time.Time, limit int) ([]*domain.Payment, error)

	// DeletePurgeableUpdatedBefore removes refunded, cancelled and exhausted
	// failed payments last updated before the given time.
	DeletePurgeableUpdatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// OutboxStore defines the interface for the transactional event outbox.
type OutboxStore interface {
	// Append saves events. Call it in the same transaction as the entity
	// write the events describe.
	Append(ctx context.Context, evts ...*events.Event) error

	// ListUndispatched returns undelivered events with fewer than
	// maxAttempts failed deliveries, oldest first.
	ListUndispatched(ctx context.Context, maxAttempts, limit int) ([]*events.Event, error)

	// MarkDispatched records a successful delivery.
	// Returns ErrEventNotFound if the event does not exist.
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed records a failed delivery and increments the attempt count.
	// Returns ErrEventNotFound if the event does not exist.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// DeleteDispatchedBefore removes events dispatched before the given time.
	DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// TxStoreFn is a function that executes within a store transaction. The tx
// argument is a Store bound to the transaction.
type TxStoreFn func(ctx context.Context, tx Store) error

// Store groups the lifecycle stores behind one transactional boundary.
type Store interface {
	Bids() BidStore
	Payments() PaymentStore
	Outbox() OutboxStore

	// RunInTx executes fn atomically. If fn returns an error, every write
	// made through tx is discarded. Calling RunInTx on a Store that is
	// already bound to a transaction runs fn in that transaction.
	RunInTx(ctx context.Context, fn TxStoreFn) error
}

var _ events.Outbox = (OutboxStore)(nil)
