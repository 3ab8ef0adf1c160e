package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/store"
)

// Service errors. The API layer maps each of them to an HTTP status code;
// everything else is an internal failure.
var (
	// ErrNotFound indicates that the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBidNotFound indicates that the requested bid does not exist.
	ErrBidNotFound = fmt.Errorf("%w: bid", ErrNotFound)

	// ErrPaymentNotFound indicates that the requested payment does not exist.
	ErrPaymentNotFound = fmt.Errorf("%w: payment", ErrNotFound)

	// ErrNotOwner indicates that the caller is not the party the operation
	// must be performed by.
	ErrNotOwner = errors.New("caller does not own the resource")

	// ErrUnauthorized indicates that the caller's role may not perform the operation.
	ErrUnauthorized = errors.New("caller is not authorized for this operation")

	// ErrInvalidOperation indicates that the transition is not legal from
	// the entity's current state, including when another writer changed the
	// entity first.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrDuplicateBid indicates that the tasker already bid on the task.
	ErrDuplicateBid = errors.New("duplicate bid")

	// ErrDuplicatePayment indicates that the bid already has an active task payment.
	ErrDuplicatePayment = errors.New("duplicate payment")

	// ErrInvalidAmount indicates an amount outside the accepted bounds.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidParty indicates that a customer, tasker or task could not be
	// validated with the owning service.
	ErrInvalidParty = errors.New("invalid party")

	// ErrInvalidTask indicates that the task does not exist or does not accept bids.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidInput indicates malformed input not covered by a more specific error.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderError indicates a payment provider failure. It is recoverable by retrying.
	ErrProviderError = gateway.ErrProviderError

	// ErrProviderTimeout indicates that the payment provider did not answer in time.
	// errors.Is(ErrProviderTimeout, ErrProviderError) holds.
	ErrProviderTimeout = gateway.ErrProviderTimeout
)

var taxonomy = []error{
	ErrNotFound,
	ErrNotOwner,
	ErrUnauthorized,
	ErrInvalidOperation,
	ErrDuplicateBid,
	ErrDuplicatePayment,
	ErrInvalidAmount,
	ErrInvalidParty,
	ErrInvalidTask,
	ErrInvalidInput,
	ErrProviderError,
}

// ServiceError is returned for failures outside the error taxonomy, such
// as an unavailable store.
type ServiceError struct {
	// Service is the service that failed (e.g., "bid", "payment")
	Service string
	// Operation is the operation that failed (e.g., "accept_bid")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service %s failed: %s: %v", e.Service, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s service %s failed: %s", e.Service, e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError translates err into the service error taxonomy. Errors
// that map to a taxonomy sentinel are returned without a ServiceError
// wrapper; anything else is wrapped.
func NewServiceError(service, operation, message string, err error) error {
	if err == nil {
		return nil
	}

	mapped := translate(err)
	if IsTaxonomyError(mapped) {
		return mapped
	}

	return &ServiceError{
		Service:   service,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// IsTaxonomyError reports whether err matches one of the service sentinels.
func IsTaxonomyError(err error) bool {
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// translate maps store and domain errors onto service sentinels, keeping
// the original message as detail.
func translate(err error) error {
	if IsTaxonomyError(err) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrBidNotFound):
		return ErrBidNotFound
	case errors.Is(err, store.ErrPaymentNotFound):
		return ErrPaymentNotFound
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrBidExists):
		return ErrDuplicateBid
	case errors.Is(err, store.ErrActivePaymentExists):
		return ErrDuplicatePayment
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrAcceptedBidExists):
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRetryBudgetExhausted):
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	case errors.Is(err, domain.ErrInvalidAmount):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

// invalidOp returns ErrInvalidOperation with a reason.
func invalidOp(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
