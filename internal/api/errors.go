package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/service"
)

// MapErrorToStatusCode maps service errors to HTTP status codes. Anything
// outside the service error taxonomy is an internal error.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrNotOwner),
		errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, service.ErrInvalidOperation),
		errors.Is(err, service.ErrDuplicateBid),
		errors.Is(err, service.ErrDuplicatePayment):
		return http.StatusConflict

	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidParty),
		errors.Is(err, service.ErrInvalidTask),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusUnprocessableEntity

	// Timeout first: it also matches ErrProviderError.
	case errors.Is(err, service.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrProviderError):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes the error text itself.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrBidNotFound):
		return "Bid not found"
	case errors.Is(err, service.ErrPaymentNotFound):
		return "Payment not found"
	case errors.Is(err, service.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, service.ErrNotOwner):
		return "You are not a party to this resource"
	case errors.Is(err, service.ErrUnauthorized):
		return "Your role may not perform this operation"

	case errors.Is(err, service.ErrInvalidOperation):
		return "Operation not allowed in the current state"
	case errors.Is(err, service.ErrDuplicateBid):
		return "Tasker already has a bid on this task"
	case errors.Is(err, service.ErrDuplicatePayment):
		return "Bid already has an active payment"

	case errors.Is(err, service.ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, service.ErrInvalidParty):
		return "Customer or tasker could not be validated"
	case errors.Is(err, service.ErrInvalidTask):
		return "Task does not accept bids"
	case errors.Is(err, service.ErrInvalidInput):
		return "Invalid input"

	case errors.Is(err, service.ErrProviderTimeout):
		return "Payment provider timed out"
	case errors.Is(err, service.ErrProviderError):
		return "Payment provider error"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted detail. fallbackMsg replaces the generic message of internal
// errors when set.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError turns a validator error into a message naming the
// first offending field without echoing its value.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", jsonFieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// jsonFieldName converts a Go field name such as TaskID into task_id.
func jsonFieldName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid":
		return "must be a UUID"
	case "numeric":
		return "must be a decimal number"
	case "gt", "gte":
		return "too small"
	case "lt", "lte":
		return "too large"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "len":
		return "wrong length"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
