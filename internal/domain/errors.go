package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned when a monetary amount is zero, negative,
	// or carries more precision than the money scale allows.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition is returned when a lifecycle transition is not
	// legal from the entity's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRetryBudgetExhausted is returned when a payment has already failed
	// maxRetries times.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)
