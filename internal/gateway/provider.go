package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader carries the key that makes provider writes safe to repeat.
const IdempotencyKeyHeader = "Idempotency-Key"

// HTTPPaymentProvider is a PaymentProvider backed by the provider's REST API.
// Every call is bounded by the configured timeout; exceeding it yields
// ErrProviderTimeout.
type HTTPPaymentProvider struct {
	client  *jsonClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPPaymentProvider creates a provider client. apiKey is sent as a
// bearer token.
func NewHTTPPaymentProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) (*HTTPPaymentProvider, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("provider timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "payment_provider_client")
	// The HTTP client gets no timeout of its own; the per-call context bounds it.
	client, err := newJSONClient(baseURL, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("payment provider: %w", err)
	}
	if apiKey != "" {
		client.headers["Authorization"] = "Bearer " + apiKey
	}
	return &HTTPPaymentProvider{client: client, timeout: timeout, logger: logger}, nil
}

var _ PaymentProvider = (*HTTPPaymentProvider)(nil)

type chargeRequest struct {
	PaymentID   uuid.UUID            `json:"payment_id"`
	CustomerID  uuid.UUID            `json:"customer_id"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Method      domain.PaymentMethod `json:"payment_method"`
	Description string               `json:"description,omitempty"`
}

type refundRequest struct {
	RefundID              uuid.UUID       `json:"refund_id"`
	OriginalTransactionID string          `json:"original_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Reason                string          `json:"reason,omitempty"`
}

type transactionResponse struct {
	TransactionID string         `json:"transaction_id"`
	Status        ProviderStatus `json:"status"`
	Message       string         `json:"message,omitempty"`
}

// ChargePayment implements PaymentProvider.
func (p *HTTPPaymentProvider) ChargePayment(ctx context.Context, payment *domain.Payment) (string, error) {
	body := chargeRequest{
		PaymentID:   payment.ID,
		CustomerID:  payment.CustomerID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Method:      payment.Method,
		Description: payment.Description,
	}
	return p.write(ctx, "charge", "/v1/charges", payment.ID.String(), body)
}

// RefundPayment implements PaymentProvider.
func (p *HTTPPaymentProvider) RefundPayment(ctx context.Context, original, refund *domain.Payment) (string, error) {
	if original.ExternalTransactionID == nil {
		return "", fmt.Errorf("%w: payment %s has no provider transaction", ErrProviderError, original.ID)
	}
	body := refundRequest{
		RefundID:              refund.ID,
		OriginalTransactionID: *original.ExternalTransactionID,
		Amount:                refund.Amount,
		Currency:              refund.Currency,
		Reason:                refund.Description,
	}
	return p.write(ctx, "refund", "/v1/refunds", refund.ID.String(), body)
}

func (p *HTTPPaymentProvider) write(ctx context.Context, op, path, idempotencyKey string, body interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp transactionResponse
	headers := map[string]string{IdempotencyKeyHeader: idempotencyKey}
	if err := p.client.do(ctx, http.MethodPost, path, headers, body, &resp); err != nil {
		return "", providerError(op, err)
	}
	if resp.Status == ProviderStatusFailed {
		return "", fmt.Errorf("%s: %w: %s", op, ErrProviderError, resp.Message)
	}
	if resp.TransactionID == "" {
		return "", fmt.Errorf("%s: %w: empty transaction id", op, ErrProviderError)
	}
	return resp.TransactionID, nil
}

// CheckPaymentStatus implements PaymentProvider.
func (p *HTTPPaymentProvider) CheckPaymentStatus(ctx context.Context, externalTransactionID string) (ProviderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp transactionResponse
	path := "/v1/transactions/" + url.PathEscape(externalTransactionID)
	if err := p.client.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return "", providerError("check status", err)
	}
	return resp.Status, nil
}

func providerError(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w", op, ErrProviderTimeout)
	}
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, ErrProviderError, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProviderError, err)
}
