package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/service"
)

// PaymentHandler handles payment-related HTTP requests.
type PaymentHandler struct {
	paymentService service.PaymentService
	logger         *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService service.PaymentService, log *slog.Logger) *PaymentHandler {
	if paymentService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("paymentService cannot be nil for PaymentHandler")
	}
	if log == nil {
		log = slog.Default()
	}

	return &PaymentHandler{
		paymentService: paymentService,
		logger:         log.With(slog.String("component", "payment_handler")),
	}
}

// CreatePayment handles POST /payments.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	caller, ok := getCallerFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity required")
		return
	}

	var req CreatePaymentRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	customerID := parseOptionalUUID(req.CustomerID)
	if customerID == nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid customer_id: must be a UUID")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid amount: must be a decimal number", err)
		return
	}

	payment, err := h.paymentService.CreatePayment(r.Context(), caller, service.CreatePaymentInput{
		CustomerID:  *customerID,
		TaskerID:    parseOptionalUUID(req.TaskerID),
		TaskID:      parseOptionalUUID(req.TaskID),
		BidID:       parseOptionalUUID(req.BidID),
		Amount:      amount,
		Currency:    strings.ToUpper(req.Currency),
		Method:      domain.PaymentMethod(req.Method),
		Type:        domain.PaymentType(req.Type),
		Description: req.Description,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create payment")
		return
	}

	log.Debug("payment created", slog.String("payment_id", payment.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, paymentToResponse(payment))
}

// GetPayment handles GET /payments/{id}.
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	h.withPayment(w, r, "Failed to get payment", h.paymentService.GetPayment)
}

// ProcessPayment handles POST /payments/{id}/process.
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	h.withPayment(w, r, "Failed to process payment", h.paymentService.ProcessPayment)
}

// RetryPayment handles POST /payments/{id}/retry.
func (h *PaymentHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	h.withPayment(w, r, "Failed to retry payment", h.paymentService.RetryPayment)
}

// CancelPayment handles POST /payments/{id}/cancel.
func (h *PaymentHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	caller, paymentID, ok := handleCallerAndPathUUID(w, r, "id", "payment", nil)
	if !ok {
		return
	}

	var req ReasonRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	payment, err := h.paymentService.CancelPayment(r.Context(), caller, paymentID, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel payment")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, paymentToResponse(payment))
}

// RefundPayment handles POST /payments/{id}/refund. The response is the
// original payment, now REFUNDED or REFUND_FAILED.
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	caller, paymentID, ok := handleCallerAndPathUUID(w, r, "id", "payment", nil)
	if !ok {
		return
	}

	var req RefundRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	input := service.RefundInput{
		PaymentID:      paymentID,
		Reason:         req.Reason,
		KeepServiceFee: req.KeepServiceFee,
	}
	if req.Amount != "" {
		amount, err := parseAmount(req.Amount)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid amount: must be a decimal number", err)
			return
		}
		input.Amount = &amount
	}

	payment, err := h.paymentService.RefundPayment(r.Context(), caller, input)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to refund payment")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, paymentToResponse(payment))
}

// GrantRetries handles POST /payments/{id}/grant-retries.
func (h *PaymentHandler) GrantRetries(w http.ResponseWriter, r *http.Request) {
	caller, paymentID, ok := handleCallerAndPathUUID(w, r, "id", "payment", nil)
	if !ok {
		return
	}

	var req GrantRetriesRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	payment, err := h.paymentService.GrantRetries(r.Context(), caller, paymentID, req.Additional)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to grant retries")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, paymentToResponse(payment))
}

// GetProviderStatus handles GET /payments/{id}/provider-status.
func (h *PaymentHandler) GetProviderStatus(w http.ResponseWriter, r *http.Request) {
	caller, paymentID, ok := handleCallerAndPathUUID(w, r, "id", "payment", nil)
	if !ok {
		return
	}

	status, err := h.paymentService.CheckProviderStatus(r.Context(), caller, paymentID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to check provider status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ProviderStatusResponse{
		PaymentID:      paymentID,
		ProviderStatus: string(status),
	})
}

// ListCustomerPayments handles GET /customers/{id}/payments. The optional
// status query parameter may be repeated or comma separated.
func (h *PaymentHandler) ListCustomerPayments(w http.ResponseWriter, r *http.Request) {
	caller, customerID, ok := handleCallerAndPathUUID(w, r, "id", "customer", nil)
	if !ok {
		return
	}

	var statuses []domain.PaymentStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.PaymentStatus(strings.ToLower(s)))
			}
		}
	}

	payments, err := h.paymentService.ListCustomerPayments(r.Context(), caller, customerID, statuses)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list payments")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, paymentsToResponse(payments))
}

func (h *PaymentHandler) withPayment(
	w http.ResponseWriter,
	r *http.Request,
	fallbackMsg string,
	apply func(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Payment, error),
) {
	caller, paymentID, ok := handleCallerAndPathUUID(w, r, "id", "payment", nil)
	if !ok {
		return
	}

	payment, err := apply(r.Context(), caller, paymentID)
	if err != nil {
		HandleAPIError(w, r, err, fallbackMsg)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, paymentToResponse(payment))
}
