package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrBidNotFound, ErrPaymentNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would violate a uniqueness
	// constraint (e.g., a second bid by the same tasker on a task).
	ErrDuplicate = errors.New("entity already exists")

	// ErrVersionConflict is returned when an update's expected version no
	// longer matches the stored version: another writer got there first.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails for a reason
	// other than a missing row or a version conflict.
	ErrUpdateFailed = errors.New("update failed")

	// ErrDeleteFailed is returned when a delete operation fails.
	ErrDeleteFailed = errors.New("delete failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrBidNotFound indicates that the requested bid does not exist in the store.
	ErrBidNotFound = fmt.Errorf("%w: bid", ErrNotFound)

	// ErrPaymentNotFound indicates that the requested payment does not exist in the store.
	ErrPaymentNotFound = fmt.Errorf("%w: payment", ErrNotFound)

	// ErrEventNotFound indicates that the requested outbox event does not exist.
	ErrEventNotFound = fmt.Errorf("%w: outbox event", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrBidExists indicates that the tasker already bid on the task.
	ErrBidExists = fmt.Errorf("%w: bid for task and tasker", ErrDuplicate)

	// ErrAcceptedBidExists indicates that the task already has an accepted bid.
	ErrAcceptedBidExists = fmt.Errorf("%w: accepted bid for task", ErrDuplicate)

	// ErrActivePaymentExists indicates that the bid already has an active task payment.
	ErrActivePaymentExists = fmt.Errorf("%w: active payment for bid", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "bid", "payment")
	Operation string // The operation that failed (e.g., "create", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
