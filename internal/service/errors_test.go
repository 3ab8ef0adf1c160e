package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestNewServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bid not found", store.ErrBidNotFound, ErrBidNotFound},
		{"payment not found", fmt.Errorf("lookup: %w", store.ErrPaymentNotFound), ErrPaymentNotFound},
		{"duplicate bid", store.ErrBidExists, ErrDuplicateBid},
		{"duplicate payment", store.ErrActivePaymentExists, ErrDuplicatePayment},
		{"version conflict", store.ErrVersionConflict, ErrInvalidOperation},
		{"accepted bid exists", store.ErrAcceptedBidExists, ErrInvalidOperation},
		{"invalid transition", fmt.Errorf("%w: cannot accept", domain.ErrInvalidTransition), ErrInvalidOperation},
		{"retry budget", domain.ErrRetryBudgetExhausted, ErrInvalidOperation},
		{"invalid amount", domain.ErrInvalidAmount, ErrInvalidAmount},
		{"invalid entity", store.ErrInvalidEntity, ErrInvalidInput},
		{"provider timeout", gateway.ErrProviderTimeout, ErrProviderError},
		{"taxonomy passthrough", ErrNotOwner, ErrNotOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewServiceError("bid", "op", "message", tt.err)
			assert.ErrorIs(t, err, tt.want)

			var svcErr *ServiceError
			assert.False(t, errors.As(err, &svcErr), "taxonomy errors are not wrapped")
		})
	}

	t.Run("unknown errors are wrapped", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewServiceError("payment", "process_payment", "failed to claim payment", cause)

		var svcErr *ServiceError
		assert.True(t, errors.As(err, &svcErr))
		assert.Equal(t, "payment", svcErr.Service)
		assert.ErrorIs(t, err, cause)
		assert.False(t, IsTaxonomyError(err))
		assert.Equal(t, "payment service process_payment failed: failed to claim payment: connection refused", err.Error())
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NewServiceError("bid", "op", "message", nil))
	})
}

func TestNotFoundSentinelsMatchGeneric(t *testing.T) {
	assert.ErrorIs(t, ErrBidNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrPaymentNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrProviderTimeout, ErrProviderError)
}
