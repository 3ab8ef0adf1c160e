package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

// Possible payment status values
const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusProcessing    PaymentStatus = "processing"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRetryPending  PaymentStatus = "retry_pending"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusRefundFailed  PaymentStatus = "refund_failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRetryPending, PaymentStatusRefundPending,
		PaymentStatusRefunded, PaymentStatusRefundFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

// Supported payment methods
const (
	PaymentMethodCreditCard    PaymentMethod = "credit_card"
	PaymentMethodDebitCard     PaymentMethod = "debit_card"
	PaymentMethodBankTransfer  PaymentMethod = "bank_transfer"
	PaymentMethodDigitalWallet PaymentMethod = "digital_wallet"
	PaymentMethodCash          PaymentMethod = "cash"
)

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodBankTransfer,
		PaymentMethodDigitalWallet, PaymentMethodCash:
		return true
	default:
		return false
	}
}

// PaymentType classifies what the money movement is for.
type PaymentType string

// Supported payment types
const (
	PaymentTypeTaskPayment PaymentType = "task_payment"
	PaymentTypeServiceFee  PaymentType = "service_fee"
	PaymentTypeRefund      PaymentType = "refund"
	PaymentTypeDeposit     PaymentType = "deposit"
	PaymentTypeWithdrawal  PaymentType = "withdrawal"
	PaymentTypePenalty     PaymentType = "penalty"
	PaymentTypeBonus       PaymentType = "bonus"
)

// IsValid reports whether t is a known payment type.
func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypeTaskPayment, PaymentTypeServiceFee, PaymentTypeRefund,
		PaymentTypeDeposit, PaymentTypeWithdrawal, PaymentTypePenalty, PaymentTypeBonus:
		return true
	default:
		return false
	}
}

// ChargesServiceFee reports whether the platform fee applies to payments of type t.
func (t PaymentType) ChargesServiceFee() bool {
	return t == PaymentTypeTaskPayment
}

// Payment validation errors
var (
	ErrPaymentIDEmpty         = errors.New("payment ID cannot be empty")
	ErrPaymentCustomerIDEmpty = errors.New("payment customer ID cannot be empty")
	ErrInvalidPaymentStatus   = errors.New("invalid payment status")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidPaymentType     = errors.New("invalid payment type")
	ErrInvalidCurrency        = errors.New("currency must be a 3-letter code")
	ErrInvalidMaxRetries      = errors.New("max retries must be at least 1")
	ErrFeeMismatch            = errors.New("amount - service fee does not equal net amount")
)

// Payment is a money movement processed through the external provider.
// ServiceFee and NetAmount are computed once at creation from FeePercentage
// and never recomputed afterwards.
type Payment struct {
	ID                    uuid.UUID       `json:"id"`
	CustomerID            uuid.UUID       `json:"customer_id"`
	TaskerID              *uuid.UUID      `json:"tasker_id,omitempty"`
	TaskID                *uuid.UUID      `json:"task_id,omitempty"`
	BidID                 *uuid.UUID      `json:"bid_id,omitempty"`
	RefundOfID            *uuid.UUID      `json:"refund_of_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	FeePercentage         decimal.Decimal `json:"fee_percentage"`
	ServiceFee            decimal.Decimal `json:"service_fee"`
	NetAmount             decimal.Decimal `json:"net_amount"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	Currency              string          `json:"currency"`
	Method                PaymentMethod   `json:"payment_method"`
	Type                  PaymentType     `json:"payment_type"`
	Status                PaymentStatus   `json:"status"`
	Description           string          `json:"description,omitempty"`
	ExternalTransactionID *string         `json:"external_transaction_id,omitempty"`
	RetryCount            int             `json:"retry_count"`
	MaxRetries            int             `json:"max_retries"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	FailedAt              *time.Time      `json:"failed_at,omitempty"`
	RefundedAt            *time.Time      `json:"refunded_at,omitempty"`
	Version               int64           `json:"version"`
}

// NewPaymentParams holds the inputs for NewPayment.
type NewPaymentParams struct {
	CustomerID    uuid.UUID
	TaskerID      *uuid.UUID
	TaskID        *uuid.UUID
	BidID         *uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Method        PaymentMethod
	Type          PaymentType
	Description   string
	FeePercentage decimal.Decimal
	MaxRetries    int
}

// NewPayment creates a pending payment with its fee and net amount fixed.
func NewPayment(p NewPaymentParams) (*Payment, error) {
	feePct := decimal.Zero
	if p.Type.ChargesServiceFee() {
		feePct = p.FeePercentage
	}
	fee, net := ComputeFee(p.Amount, feePct)

	payment := &Payment{
		ID:             uuid.New(),
		CustomerID:     p.CustomerID,
		TaskerID:       p.TaskerID,
		TaskID:         p.TaskID,
		BidID:          p.BidID,
		Amount:         p.Amount,
		FeePercentage:  feePct,
		ServiceFee:     fee,
		NetAmount:      net,
		RefundedAmount: decimal.Zero,
		Currency:       p.Currency,
		Method:         p.Method,
		Type:           p.Type,
		Status:         PaymentStatusPending,
		Description:    p.Description,
		MaxRetries:     p.MaxRetries,
	}

	if err := payment.Validate(); err != nil {
		return nil, err
	}
	return payment, nil
}

// Validate checks if the Payment has valid data.
func (p *Payment) Validate() error {
	if p.ID == uuid.Nil {
		return ErrPaymentIDEmpty
	}
	if p.CustomerID == uuid.Nil {
		return ErrPaymentCustomerIDEmpty
	}
	if err := ValidateAmount(p.Amount); err != nil {
		return err
	}
	if len(p.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if !p.Method.IsValid() {
		return ErrInvalidPaymentMethod
	}
	if !p.Type.IsValid() {
		return ErrInvalidPaymentType
	}
	if !p.Status.IsValid() {
		return ErrInvalidPaymentStatus
	}
	if p.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if !p.Amount.Sub(p.ServiceFee).Equal(p.NetAmount) {
		return ErrFeeMismatch
	}
	return nil
}

// RecomputeFee recalculates the fee from the percentage recorded at creation.
func (p *Payment) RecomputeFee() (fee, net decimal.Decimal) {
	return ComputeFee(p.Amount, p.FeePercentage)
}

// CanRetry reports whether a failed payment still has retry budget.
func (p *Payment) CanRetry() bool {
	return p.Status == PaymentStatusFailed && p.RetryCount < p.MaxRetries
}

// IsExhausted reports whether the payment failed and has no retry budget left.
func (p *Payment) IsExhausted() bool {
	return p.Status == PaymentStatusFailed && p.RetryCount >= p.MaxRetries
}

// IsTerminal reports whether no automatic transition will ever touch p again.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusRefunded, PaymentStatusRefundFailed, PaymentStatusCancelled:
		return true
	case PaymentStatusFailed:
		return p.IsExhausted()
	default:
		return false
	}
}

// IsPurgeable reports whether the retention sweep may delete p. Completed
// payments and refund failures awaiting manual intervention are kept.
func (p *Payment) IsPurgeable() bool {
	switch p.Status {
	case PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	case PaymentStatusFailed:
		return p.IsExhausted()
	default:
		return false
	}
}

// BlocksNewTaskPayment reports whether p counts as the active task payment
// of its bid: anything except cancelled, refunded, or exhausted failures.
func (p *Payment) BlocksNewTaskPayment() bool {
	if p.Type != PaymentTypeTaskPayment || p.BidID == nil {
		return false
	}
	switch p.Status {
	case PaymentStatusCancelled, PaymentStatusRefunded:
		return false
	case PaymentStatusFailed:
		return !p.IsExhausted()
	default:
		return true
	}
}

func (p *Payment) requireStatus(op string, allowed ...PaymentStatus) error {
	for _, s := range allowed {
		if p.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s payment in status %s", ErrInvalidTransition, op, p.Status)
}

// StartProcessing moves a pending or retry-pending payment to processing.
func (p *Payment) StartProcessing(now time.Time) error {
	if err := p.requireStatus("process", PaymentStatusPending, PaymentStatusRetryPending); err != nil {
		return err
	}
	if p.RetryCount >= p.MaxRetries {
		return ErrRetryBudgetExhausted
	}
	p.Status = PaymentStatusProcessing
	p.ProcessedAt = &now
	return nil
}

// Complete records a successful provider charge.
func (p *Payment) Complete(externalTransactionID string, now time.Time) error {
	if err := p.requireStatus("complete", PaymentStatusProcessing); err != nil {
		return err
	}
	p.Status = PaymentStatusCompleted
	p.ExternalTransactionID = &externalTransactionID
	p.FailureReason = nil
	p.CompletedAt = &now
	return nil
}

// Fail records a failed provider charge and consumes one unit of retry budget.
func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.requireStatus("fail", PaymentStatusProcessing); err != nil {
		return err
	}
	p.Status = PaymentStatusFailed
	p.RetryCount++
	p.FailureReason = &reason
	p.FailedAt = &now
	return nil
}

// ScheduleRetry moves a retryable failed payment to retry-pending.
func (p *Payment) ScheduleRetry() error {
	if err := p.requireStatus("retry", PaymentStatusFailed); err != nil {
		return err
	}
	if !p.CanRetry() {
		return fmt.Errorf("%w: %w (%d/%d)", ErrInvalidTransition, ErrRetryBudgetExhausted, p.RetryCount, p.MaxRetries)
	}
	p.Status = PaymentStatusRetryPending
	return nil
}

// GrantRetries raises the retry budget of a failed payment. It is the only
// way an exhausted payment can be processed again.
func (p *Payment) GrantRetries(n int) error {
	if err := p.requireStatus("grant retries to", PaymentStatusFailed); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: additional retries must be positive", ErrValidation)
	}
	p.MaxRetries += n
	return nil
}

// BeginRefund moves a completed payment to refund-pending.
func (p *Payment) BeginRefund() error {
	return p.transition("refund", PaymentStatusRefundPending, PaymentStatusCompleted)
}

// CompleteRefund records a successful provider refund of amount.
func (p *Payment) CompleteRefund(amount decimal.Decimal, now time.Time) error {
	if err := p.transition("complete refund of", PaymentStatusRefunded, PaymentStatusRefundPending); err != nil {
		return err
	}
	p.RefundedAmount = amount
	p.RefundedAt = &now
	return nil
}

// FailRefund records a failed provider refund. Refunds are never retried automatically.
func (p *Payment) FailRefund(reason string) error {
	if err := p.transition("fail refund of", PaymentStatusRefundFailed, PaymentStatusRefundPending); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// Cancel moves a pending payment to cancelled.
func (p *Payment) Cancel(reason string) error {
	if err := p.transition("cancel", PaymentStatusCancelled, PaymentStatusPending); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

func (p *Payment) transition(op string, to PaymentStatus, from ...PaymentStatus) error {
	if err := p.requireStatus(op, from...); err != nil {
		return err
	}
	p.Status = to
	return nil
}

// Clone returns a deep copy of the payment.
func (p *Payment) Clone() *Payment {
	c := *p
	c.TaskerID = cloneUUID(p.TaskerID)
	c.TaskID = cloneUUID(p.TaskID)
	c.BidID = cloneUUID(p.BidID)
	c.RefundOfID = cloneUUID(p.RefundOfID)
	c.ExternalTransactionID = cloneString(p.ExternalTransactionID)
	c.FailureReason = cloneString(p.FailureReason)
	c.ProcessedAt = cloneTime(p.ProcessedAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.FailedAt = cloneTime(p.FailedAt)
	c.RefundedAt = cloneTime(p.RefundedAt)
	return &c
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
