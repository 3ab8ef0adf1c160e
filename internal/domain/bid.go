package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidStatus represents the lifecycle state of a bid.
type BidStatus string

// Possible bid status values. Pending and accepted are the only non-terminal states.
const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusWithdrawn BidStatus = "withdrawn"
	BidStatusCompleted BidStatus = "completed"
	BidStatusCancelled BidStatus = "cancelled"
)

// IsValid reports whether s is a known bid status.
func (s BidStatus) IsValid() bool {
	switch s {
	case BidStatusPending, BidStatusAccepted, BidStatusRejected,
		BidStatusWithdrawn, BidStatusCompleted, BidStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s BidStatus) IsTerminal() bool {
	return s != BidStatusPending && s != BidStatusAccepted
}

// PurgeableBidStatuses are the terminal statuses removed by the retention sweep.
// Completed bids stay because payments reference them.
var PurgeableBidStatuses = []BidStatus{
	BidStatusRejected,
	BidStatusWithdrawn,
	BidStatusCancelled,
}

// Bid validation errors
var (
	ErrBidIDEmpty         = errors.New("bid ID cannot be empty")
	ErrBidTaskIDEmpty     = errors.New("bid task ID cannot be empty")
	ErrBidTaskerIDEmpty   = errors.New("bid tasker ID cannot be empty")
	ErrBidCustomerIDEmpty = errors.New("bid customer ID cannot be empty")
	ErrInvalidBidStatus   = errors.New("invalid bid status")
	ErrInvalidEstimate    = errors.New("estimated hours must be positive")
)

// Bid is a tasker's offer to perform a task for a proposed amount.
// Fields are mutated only through the transition methods below; Version
// and the created/updated timestamps are owned by the store's write path.
type Bid struct {
	ID             uuid.UUID       `json:"id"`
	TaskID         uuid.UUID       `json:"task_id"`
	TaskerID       uuid.UUID       `json:"tasker_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Message        string          `json:"message,omitempty"`
	Status         BidStatus       `json:"status"`
	EstimatedHours *int            `json:"estimated_hours,omitempty"`
	StatusReason   string          `json:"status_reason,omitempty"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
	WithdrawnAt    *time.Time      `json:"withdrawn_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int64           `json:"version"`
}

// NewBid creates a pending bid. Returns an error if validation fails.
func NewBid(
	taskID, taskerID, customerID uuid.UUID,
	amount decimal.Decimal,
	message string,
	estimatedHours *int,
) (*Bid, error) {
	bid := &Bid{
		ID:             uuid.New(),
		TaskID:         taskID,
		TaskerID:       taskerID,
		CustomerID:     customerID,
		Amount:         amount,
		Message:        message,
		Status:         BidStatusPending,
		EstimatedHours: estimatedHours,
	}

	if err := bid.Validate(); err != nil {
		return nil, err
	}

	return bid, nil
}

// Validate checks if the Bid has valid data.
func (b *Bid) Validate() error {
	if b.ID == uuid.Nil {
		return ErrBidIDEmpty
	}
	if b.TaskID == uuid.Nil {
		return ErrBidTaskIDEmpty
	}
	if b.TaskerID == uuid.Nil {
		return ErrBidTaskerIDEmpty
	}
	if b.CustomerID == uuid.Nil {
		return ErrBidCustomerIDEmpty
	}
	if err := ValidateAmount(b.Amount); err != nil {
		return err
	}
	if !b.Status.IsValid() {
		return ErrInvalidBidStatus
	}
	if b.EstimatedHours != nil && *b.EstimatedHours <= 0 {
		return ErrInvalidEstimate
	}
	return nil
}

func (b *Bid) requireStatus(op string, allowed ...BidStatus) error {
	for _, s := range allowed {
		if b.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s bid in status %s", ErrInvalidTransition, op, b.Status)
}

// Revise changes the offer of a pending bid.
func (b *Bid) Revise(amount decimal.Decimal, message *string) error {
	if err := b.requireStatus("update", BidStatusPending); err != nil {
		return err
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	b.Amount = amount
	if message != nil {
		b.Message = *message
	}
	return nil
}

// Accept moves a pending bid to accepted.
func (b *Bid) Accept(now time.Time) error {
	if err := b.requireStatus("accept", BidStatusPending); err != nil {
		return err
	}
	b.Status = BidStatusAccepted
	b.AcceptedAt = &now
	return nil
}

// Reject moves a pending bid to rejected.
func (b *Bid) Reject(reason string, now time.Time) error {
	if err := b.requireStatus("reject", BidStatusPending); err != nil {
		return err
	}
	b.Status = BidStatusRejected
	b.StatusReason = reason
	b.RejectedAt = &now
	return nil
}

// Withdraw moves a pending or accepted bid to withdrawn.
func (b *Bid) Withdraw(reason string, now time.Time) error {
	if err := b.requireStatus("withdraw", BidStatusPending, BidStatusAccepted); err != nil {
		return err
	}
	b.Status = BidStatusWithdrawn
	b.StatusReason = reason
	b.WithdrawnAt = &now
	return nil
}

// Complete moves an accepted bid to completed.
func (b *Bid) Complete(now time.Time) error {
	if err := b.requireStatus("complete", BidStatusAccepted); err != nil {
		return err
	}
	b.Status = BidStatusCompleted
	b.CompletedAt = &now
	return nil
}

// Cancel moves an accepted bid to cancelled.
func (b *Bid) Cancel(reason string, now time.Time) error {
	if err := b.requireStatus("cancel", BidStatusAccepted); err != nil {
		return err
	}
	b.Status = BidStatusCancelled
	b.StatusReason = reason
	b.CancelledAt = &now
	return nil
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	c := *b
	c.EstimatedHours = cloneInt(b.EstimatedHours)
	c.AcceptedAt = cloneTime(b.AcceptedAt)
	c.RejectedAt = cloneTime(b.RejectedAt)
	c.WithdrawnAt = cloneTime(b.WithdrawnAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
