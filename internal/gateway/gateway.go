package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/shopspring/decimal"
)

// Gateway errors. Callers compare with errors.Is.
var (
	// ErrNotFound is returned when the remote service does not know the entity.
	ErrNotFound = errors.New("remote entity not found")

	// ErrUnavailable is returned when a task or user service call fails
	// for transport reasons or with a server error.
	ErrUnavailable = errors.New("remote service unavailable")

	// ErrProviderError is returned when the payment provider declines or
	// fails a request. It is recoverable by retrying.
	ErrProviderError = errors.New("payment provider error")

	// ErrProviderTimeout is returned when a provider call exceeds its timeout.
	ErrProviderTimeout = fmt.Errorf("%w: timeout", ErrProviderError)
)

// TaskStatus is the status of a task as owned by the task service.
type TaskStatus string

// Task statuses understood by the lifecycle core.
const (
	TaskStatusOpen       TaskStatus = "OPEN"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusPaid       TaskStatus = "PAID"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// AcceptsBids reports whether a task in status s can receive or accept bids.
func (s TaskStatus) AcceptsBids() bool {
	return s == TaskStatusOpen
}

// TaskInfo is the subset of a task the lifecycle core needs.
type TaskInfo struct {
	ID               uuid.UUID        `json:"id"`
	CustomerID       uuid.UUID        `json:"customer_id"`
	Title            string           `json:"title"`
	Status           TaskStatus       `json:"status"`
	Budget           *decimal.Decimal `json:"budget,omitempty"`
	AssignedTaskerID *uuid.UUID       `json:"assigned_tasker_id,omitempty"`
}

// TaskerInfo describes a tasker profile.
type TaskerInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Phone  string    `json:"phone,omitempty"`
	Active bool      `json:"active"`
}

// UserInfo describes any user account.
type UserInfo struct {
	ID    uuid.UUID     `json:"id"`
	Name  string        `json:"name"`
	Phone string        `json:"phone,omitempty"`
	Roles []domain.Role `json:"roles"`
}

// HasRole reports whether the user holds role.
func (u *UserInfo) HasRole(role domain.Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ProviderStatus is the state of a transaction at the payment provider.
type ProviderStatus string

// Provider transaction statuses.
const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusSucceeded ProviderStatus = "succeeded"
	ProviderStatusFailed    ProviderStatus = "failed"
	ProviderStatusRefunded  ProviderStatus = "refunded"
)

// TaskService is the task subsystem.
type TaskService interface {
	// GetTaskInfo returns ErrNotFound if the task does not exist.
	GetTaskInfo(ctx context.Context, taskID uuid.UUID) (*TaskInfo, error)

	// UpdateTaskStatus sets the task's status. assignedTaskerID may be nil.
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus, assignedTaskerID *uuid.UUID) error
}

// UserService is the user subsystem.
type UserService interface {
	// GetTaskerInfo returns ErrNotFound if the tasker does not exist.
	GetTaskerInfo(ctx context.Context, taskerID uuid.UUID) (*TaskerInfo, error)

	// GetUserInfo returns ErrNotFound if the user does not exist.
	GetUserInfo(ctx context.Context, userID uuid.UUID) (*UserInfo, error)

	// ValidateUserRole reports whether the user exists and holds role.
	ValidateUserRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error)
}

// PaymentProvider is the external payment processor.
type PaymentProvider interface {
	// ChargePayment charges the payment and returns the provider's
	// transaction ID. The payment ID is the idempotency key, so a repeated
	// charge of the same payment is never billed twice.
	ChargePayment(ctx context.Context, payment *domain.Payment) (string, error)

	// RefundPayment refunds refund.Amount of the original payment.
	RefundPayment(ctx context.Context, original, refund *domain.Payment) (string, error)

	// CheckPaymentStatus queries the provider for a transaction.
	CheckPaymentStatus(ctx context.Context, externalTransactionID string) (ProviderStatus, error)
}

// ExternalGateway groups every collaborator the lifecycle services call.
type ExternalGateway interface {
	TaskService
	UserService
	PaymentProvider
}

type composite struct {
	TaskService
	UserService
	PaymentProvider
}

// New combines the three collaborators into one ExternalGateway.
func New(tasks TaskService, users UserService, provider PaymentProvider) ExternalGateway {
	return &composite{TaskService: tasks, UserService: users, PaymentProvider: provider}
}
