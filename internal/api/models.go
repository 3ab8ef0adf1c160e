package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
)

// Amounts travel as decimal strings ("42.50") so no precision is lost in
// JSON number handling.

// CreateBidRequest defines the payload for POST /bids.
type CreateBidRequest struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
	// TaskerID defaults to the caller.
	TaskerID       string `json:"tasker_id,omitempty"       validate:"omitempty,uuid"`
	Amount         string `json:"amount"                    validate:"required,numeric"`
	Message        string `json:"message,omitempty"         validate:"max=2000"`
	EstimatedHours *int   `json:"estimated_hours,omitempty" validate:"omitempty,gt=0,lte=10000"`
}

// UpdateBidRequest defines the payload for PUT /bids/{id}.
type UpdateBidRequest struct {
	Amount  string  `json:"amount"            validate:"required,numeric"`
	Message *string `json:"message,omitempty" validate:"omitempty,max=2000"`
}

// ReasonRequest is the optional payload of reject, withdraw and cancel.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// CreatePaymentRequest defines the payload for POST /payments.
type CreatePaymentRequest struct {
	CustomerID  string `json:"customer_id"              validate:"required,uuid"`
	TaskerID    string `json:"tasker_id,omitempty"      validate:"omitempty,uuid"`
	TaskID      string `json:"task_id,omitempty"        validate:"omitempty,uuid"`
	BidID       string `json:"bid_id,omitempty"         validate:"omitempty,uuid"`
	Amount      string `json:"amount"                   validate:"required,numeric"`
	Currency    string `json:"currency,omitempty"       validate:"omitempty,len=3,alpha"`
	Method      string `json:"payment_method,omitempty" validate:"omitempty,oneof=credit_card debit_card bank_transfer digital_wallet cash"`
	Type        string `json:"payment_type,omitempty"   validate:"omitempty,oneof=task_payment service_fee deposit withdrawal penalty bonus"`
	Description string `json:"description,omitempty"    validate:"max=500"`
}

// RefundRequest defines the payload for POST /payments/{id}/refund.
type RefundRequest struct {
	// Amount defaults to the full refundable amount.
	Amount         string `json:"amount,omitempty"           validate:"omitempty,numeric"`
	Reason         string `json:"reason,omitempty"           validate:"max=500"`
	KeepServiceFee bool   `json:"keep_service_fee,omitempty"`
}

// GrantRetriesRequest defines the payload for POST /payments/{id}/grant-retries.
type GrantRetriesRequest struct {
	Additional int `json:"additional" validate:"required,gt=0,lte=10"`
}

// BidResponse is the client view of a bid.
type BidResponse struct {
	ID             uuid.UUID  `json:"id"`
	TaskID         uuid.UUID  `json:"task_id"`
	TaskerID       uuid.UUID  `json:"tasker_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	Amount         string     `json:"amount"`
	Message        string     `json:"message,omitempty"`
	Status         string     `json:"status"`
	EstimatedHours *int       `json:"estimated_hours,omitempty"`
	StatusReason   string     `json:"status_reason,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int64      `json:"version"`
}

// PaymentResponse is the client view of a payment.
type PaymentResponse struct {
	ID                    uuid.UUID  `json:"id"`
	CustomerID            uuid.UUID  `json:"customer_id"`
	TaskerID              *uuid.UUID `json:"tasker_id,omitempty"`
	TaskID                *uuid.UUID `json:"task_id,omitempty"`
	BidID                 *uuid.UUID `json:"bid_id,omitempty"`
	RefundOfID            *uuid.UUID `json:"refund_of_id,omitempty"`
	Amount                string     `json:"amount"`
	ServiceFee            string     `json:"service_fee"`
	NetAmount             string     `json:"net_amount"`
	RefundedAmount        string     `json:"refunded_amount"`
	Currency              string     `json:"currency"`
	Method                string     `json:"payment_method"`
	Type                  string     `json:"payment_type"`
	Status                string     `json:"status"`
	Description           string     `json:"description,omitempty"`
	ExternalTransactionID *string    `json:"external_transaction_id,omitempty"`
	RetryCount            int        `json:"retry_count"`
	MaxRetries            int        `json:"max_retries"`
	FailureReason         *string    `json:"failure_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	Version               int64      `json:"version"`
}

// ProviderStatusResponse is returned by GET /payments/{id}/provider-status.
type ProviderStatusResponse struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	ProviderStatus string    `json:"provider_status"`
}

func bidToResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		ID:             b.ID,
		TaskID:         b.TaskID,
		TaskerID:       b.TaskerID,
		CustomerID:     b.CustomerID,
		Amount:         b.Amount.StringFixed(2),
		Message:        b.Message,
		Status:         string(b.Status),
		EstimatedHours: b.EstimatedHours,
		StatusReason:   b.StatusReason,
		AcceptedAt:     b.AcceptedAt,
		CompletedAt:    b.CompletedAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		Version:        b.Version,
	}
}

func bidsToResponse(bids []*domain.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidToResponse(b))
	}
	return out
}

func paymentToResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                    p.ID,
		CustomerID:            p.CustomerID,
		TaskerID:              p.TaskerID,
		TaskID:                p.TaskID,
		BidID:                 p.BidID,
		RefundOfID:            p.RefundOfID,
		Amount:                p.Amount.StringFixed(2),
		ServiceFee:            p.ServiceFee.StringFixed(2),
		NetAmount:             p.NetAmount.StringFixed(2),
		RefundedAmount:        p.RefundedAmount.StringFixed(2),
		Currency:              p.Currency,
		Method:                string(p.Method),
		Type:                  string(p.Type),
		Status:                string(p.Status),
		Description:           p.Description,
		ExternalTransactionID: p.ExternalTransactionID,
		RetryCount:            p.RetryCount,
		MaxRetries:            p.MaxRetries,
		FailureReason:         p.FailureReason,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
		CompletedAt:           p.CompletedAt,
		RefundedAt:            p.RefundedAt,
		Version:               p.Version,
	}
}

func paymentsToResponse(payments []*domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentToResponse(p))
	}
	return out
}
