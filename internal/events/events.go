package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/shopspring/decimal"
)

// Aggregate types recorded on every event.
const (
	AggregateBid     = "bid"
	AggregatePayment = "payment"
)

// Bid event types.
const (
	BidCreated   = "bid.created"
	BidAccepted  = "bid.accepted"
	BidRejected  = "bid.rejected"
	BidWithdrawn = "bid.withdrawn"
	BidCompleted = "bid.completed"
	BidCancelled = "bid.cancelled"
)

// Payment event types.
const (
	PaymentCreated      = "payment.created"
	PaymentCompleted    = "payment.completed"
	PaymentFailed       = "payment.failed"
	PaymentRefunded     = "payment.refunded"
	PaymentRefundFailed = "payment.refund_failed"
	PaymentCancelled    = "payment.cancelled"
)

// Event is a domain event as stored in the outbox.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the bid.* or payment.* constants
	Type string `json:"type"`

	// AggregateType and AggregateID identify the entity that changed
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the time the originating transition happened
	CreatedAt time.Time `json:"created_at"`

	// Attempts counts failed delivery attempts
	Attempts int `json:"attempts"`
}

// NewEvent creates an event with the given type and payload.
func NewEvent(eventType, aggregateType string, aggregateID uuid.UUID, payload interface{}, now time.Time) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payloadBytes,
		CreatedAt:     now,
	}, nil
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// BidPayload is the payload of every bid.* event.
type BidPayload struct {
	BidID          uuid.UUID        `json:"bid_id"`
	TaskID         uuid.UUID        `json:"task_id"`
	TaskerID       uuid.UUID        `json:"tasker_id"`
	CustomerID     uuid.UUID        `json:"customer_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Status         domain.BidStatus `json:"status"`
	PreviousStatus domain.BidStatus `json:"previous_status,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// NewBidEvent builds a bid event from the bid's post-transition state.
func NewBidEvent(eventType string, bid *domain.Bid, previous domain.BidStatus, now time.Time) (*Event, error) {
	return NewEvent(eventType, AggregateBid, bid.ID, BidPayload{
		BidID:          bid.ID,
		TaskID:         bid.TaskID,
		TaskerID:       bid.TaskerID,
		CustomerID:     bid.CustomerID,
		Amount:         bid.Amount,
		Status:         bid.Status,
		PreviousStatus: previous,
		Reason:         bid.StatusReason,
	}, now)
}

// PaymentPayload is the payload of every payment.* event.
type PaymentPayload struct {
	PaymentID             uuid.UUID            `json:"payment_id"`
	CustomerID            uuid.UUID            `json:"customer_id"`
	TaskerID              *uuid.UUID           `json:"tasker_id,omitempty"`
	TaskID                *uuid.UUID           `json:"task_id,omitempty"`
	BidID                 *uuid.UUID           `json:"bid_id,omitempty"`
	Type                  domain.PaymentType   `json:"payment_type"`
	Amount                decimal.Decimal      `json:"amount"`
	RefundedAmount        decimal.Decimal      `json:"refunded_amount"`
	Status                domain.PaymentStatus `json:"status"`
	RetryCount            int                  `json:"retry_count"`
	MaxRetries            int                  `json:"max_retries"`
	Exhausted             bool                 `json:"exhausted"`
	ExternalTransactionID string               `json:"external_transaction_id,omitempty"`
	FailureReason         string               `json:"failure_reason,omitempty"`
}

// NewPaymentEvent builds a payment event from the payment's post-transition state.
func NewPaymentEvent(eventType string, p *domain.Payment, now time.Time) (*Event, error) {
	payload := PaymentPayload{
		PaymentID:      p.ID,
		CustomerID:     p.CustomerID,
		TaskerID:       p.TaskerID,
		TaskID:         p.TaskID,
		BidID:          p.BidID,
		Type:           p.Type,
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		Status:         p.Status,
		RetryCount:     p.RetryCount,
		MaxRetries:     p.MaxRetries,
		Exhausted:      p.IsExhausted(),
	}
	if p.ExternalTransactionID != nil {
		payload.ExternalTransactionID = *p.ExternalTransactionID
	}
	if p.FailureReason != nil {
		payload.FailureReason = *p.FailureReason
	}
	return NewEvent(eventType, AggregatePayment, p.ID, payload, now)
}

// EventHandler defines an interface for components that can handle events.
// Handlers must tolerate redelivery of the same event.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the relay to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
