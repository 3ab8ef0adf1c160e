package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/shopspring/decimal"
)

// Failure reasons recorded by the lifecycle itself.
const (
	ReasonProviderTimeout       = "provider timeout"
	ReasonProcessingInterrupted = "processing interrupted"
	ReasonPendingTimeout        = "pending timeout"
)

// maxFailureReason bounds the provider message stored on a payment.
const maxFailureReason = 500

// CreatePaymentInput holds the parameters of CreatePayment. Zero values of
// Currency, Method and Type select the configured defaults and a task payment.
type CreatePaymentInput struct {
	CustomerID  uuid.UUID
	TaskerID    *uuid.UUID
	TaskID      *uuid.UUID
	BidID       *uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Method      domain.PaymentMethod
	Type        domain.PaymentType
	Description string
}

// RefundInput holds the parameters of RefundPayment.
type RefundInput struct {
	PaymentID uuid.UUID
	// Amount defaults to the full refundable amount.
	Amount *decimal.Decimal
	Reason string
	// KeepServiceFee limits the refund to the net amount so the platform
	// keeps its fee.
	KeepServiceFee bool
}

// PaymentService defines the payment lifecycle.
type PaymentService interface {
	// CreatePayment creates a pending payment with its fee fixed.
	CreatePayment(ctx context.Context, caller domain.Caller, input CreatePaymentInput) (*domain.Payment, error)

	// GetPayment returns a payment visible to the caller.
	GetPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error)

	// ListCustomerPayments returns the customer's payments, newest first.
	ListCustomerPayments(ctx context.Context, caller domain.Caller, customerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error)

	// ProcessPayment charges a pending or retry-pending payment. On provider
	// failure the failed payment is returned together with an error
	// matching ErrProviderError.
	ProcessPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error)

	// RetryPayment schedules a failed payment with retry budget left and processes it.
	RetryPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error)

	// RefundPayment refunds a completed payment through the provider.
	RefundPayment(ctx context.Context, caller domain.Caller, input RefundInput) (*domain.Payment, error)

	// CancelPayment cancels a pending payment.
	CancelPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID, reason string) (*domain.Payment, error)

	// CancelPendingPaymentsForBid cancels the bid's pending task payments.
	CancelPendingPaymentsForBid(ctx context.Context, bidID uuid.UUID, reason string) (int, error)

	// GrantRetries raises the retry budget of a failed payment.
	GrantRetries(ctx context.Context, caller domain.Caller, paymentID uuid.UUID, additional int) (*domain.Payment, error)

	// CheckProviderStatus asks the provider about a payment's transaction.
	CheckProviderStatus(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (gateway.ProviderStatus, error)

	// ProcessPendingPayments processes pending payments past the grace window.
	ProcessPendingPayments(ctx context.Context) (SweepResult, error)

	// RetryFailedPayments retries failed payments with budget left.
	RetryFailedPayments(ctx context.Context) (SweepResult, error)

	// CleanupOldPendingPayments cancels payments pending past the timeout
	// and purges terminal payments past retention.
	CleanupOldPendingPayments(ctx context.Context) (SweepResult, error)

	// ReconcileStuckPayments fails payments left processing by a crash.
	ReconcileStuckPayments(ctx context.Context) (SweepResult, error)
}

// PaymentServiceImpl implements PaymentService.
type PaymentServiceImpl struct {
	lifecycle
	gateway gateway.ExternalGateway
	config  PaymentConfig
}

// NewPaymentService creates a PaymentService.
// It returns an error if any of the required dependencies are nil.
func NewPaymentService(
	st store.Store,
	gw gateway.ExternalGateway,
	clk clock.Clock,
	cfg PaymentConfig,
	log *slog.Logger,
) (*PaymentServiceImpl, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid payment config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &PaymentServiceImpl{
		lifecycle: lifecycle{
			store:  st,
			clock:  clk,
			logger: log.With(slog.String("component", "payment_service")),
		},
		gateway: gw,
		config:  cfg,
	}, nil
}

var _ PaymentService = (*PaymentServiceImpl)(nil)

func paymentError(op, msg string, err error) error {
	return NewServiceError("payment", op, msg, err)
}

func paymentEvent(eventType string, p *domain.Payment, now time.Time) ([]*events.Event, error) {
	evt, err := events.NewPaymentEvent(eventType, p, now)
	if err != nil {
		return nil, err
	}
	return []*events.Event{evt}, nil
}

func requirePrivileged(caller domain.Caller) error {
	if !caller.IsPrivileged() {
		return fmt.Errorf("%w: requires admin", ErrUnauthorized)
	}
	return nil
}

func requireCustomer(caller domain.Caller, p *domain.Payment) error {
	if !caller.ActsFor(p.CustomerID) {
		return ErrNotOwner
	}
	return nil
}

// validateParties checks that every referenced party exists. A lookup that
// fails for any reason other than "not found" is returned as is so the
// caller can retry.
func (s *PaymentServiceImpl) validateParties(ctx context.Context, input CreatePaymentInput) error {
	if _, err := s.gateway.GetUserInfo(ctx, input.CustomerID); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return fmt.Errorf("%w: customer %s not found", ErrInvalidParty, input.CustomerID)
		}
		return err
	}
	if input.TaskerID != nil {
		if _, err := s.gateway.GetTaskerInfo(ctx, *input.TaskerID); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return fmt.Errorf("%w: tasker %s not found", ErrInvalidParty, *input.TaskerID)
			}
			return err
		}
	}
	if input.TaskID != nil {
		if _, err := s.gateway.GetTaskInfo(ctx, *input.TaskID); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return fmt.Errorf("%w: task %s not found", ErrInvalidParty, *input.TaskID)
			}
			return err
		}
	}
	return nil
}

// CreatePayment implements PaymentService.
func (s *PaymentServiceImpl) CreatePayment(ctx context.Context, caller domain.Caller, input CreatePaymentInput) (*domain.Payment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !caller.ActsFor(input.CustomerID) {
		return nil, ErrNotOwner
	}
	if input.Type == "" {
		input.Type = domain.PaymentTypeTaskPayment
	}
	if input.Method == "" {
		input.Method = s.config.DefaultMethod
	}
	if input.Currency == "" {
		input.Currency = s.config.Currency
	}
	if err := domain.ValidateAmount(input.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if input.Type == domain.PaymentTypeRefund {
		return nil, fmt.Errorf("%w: refunds are created by RefundPayment", ErrInvalidInput)
	}
	if input.Type == domain.PaymentTypeTaskPayment && input.BidID == nil {
		return nil, fmt.Errorf("%w: task payment requires a bid", ErrInvalidInput)
	}

	if input.BidID != nil && input.Type == domain.PaymentTypeTaskPayment {
		active, err := s.store.Payments().ExistsActiveForBid(ctx, *input.BidID)
		if err != nil {
			return nil, paymentError("create_payment", "failed to check for active payment", err)
		}
		if active {
			return nil, ErrDuplicatePayment
		}
	}

	if err := s.validateParties(ctx, input); err != nil {
		return nil, paymentError("create_payment", "failed to validate parties", err)
	}

	payment, err := domain.NewPayment(domain.NewPaymentParams{
		CustomerID:    input.CustomerID,
		TaskerID:      input.TaskerID,
		TaskID:        input.TaskID,
		BidID:         input.BidID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Method:        input.Method,
		Type:          input.Type,
		Description:   input.Description,
		FeePercentage: s.config.FeePercentage,
		MaxRetries:    s.config.MaxRetries,
	})
	if err != nil {
		return nil, paymentError("create_payment", "invalid payment", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}

	// The store's active-payment check closes the race with a concurrent create.
	err = s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return nil, err
		}
		return paymentEvent(events.PaymentCreated, payment, s.clock.Now())
	})
	if err != nil {
		return nil, paymentError("create_payment", "failed to save payment", err)
	}

	log.Info("payment created",
		slog.String("payment_id", payment.ID.String()),
		slog.String("type", string(payment.Type)),
		slog.String("amount", payment.Amount.String()),
		slog.String("service_fee", payment.ServiceFee.String()))
	return payment, nil
}

// GetPayment implements PaymentService.
func (s *PaymentServiceImpl) GetPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		return nil, paymentError("get_payment", "failed to retrieve payment", err)
	}
	if !caller.ActsFor(payment.CustomerID) && (payment.TaskerID == nil || !caller.ActsFor(*payment.TaskerID)) {
		return nil, ErrNotOwner
	}
	return payment, nil
}

// ListCustomerPayments implements PaymentService.
func (s *PaymentServiceImpl) ListCustomerPayments(
	ctx context.Context,
	caller domain.Caller,
	customerID uuid.UUID,
	statuses []domain.PaymentStatus,
) ([]*domain.Payment, error) {
	if !caller.ActsFor(customerID) {
		return nil, ErrNotOwner
	}
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
		}
	}
	payments, err := s.store.Payments().ListByCustomer(ctx, customerID, statuses)
	if err != nil {
		return nil, paymentError("list_customer_payments", "failed to list payments", err)
	}
	return payments, nil
}

// mutate applies a single-payment transition in one transaction.
func (s *PaymentServiceImpl) mutate(
	ctx context.Context,
	paymentID uuid.UUID,
	fn func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error),
) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		p, err := tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		evts, err := fn(ctx, tx, p, s.clock.Now())
		if err != nil {
			return nil, err
		}
		payment = p
		return evts, nil
	})
	return payment, err
}

// ProcessPayment implements PaymentService.
func (s *PaymentServiceImpl) ProcessPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error) {
	// Claim the payment. Once it is PROCESSING no other caller can start a charge.
	claimed, err := s.mutate(ctx, paymentID, func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error) {
		if err := requireCustomer(caller, p); err != nil {
			return nil, err
		}
		if err := p.StartProcessing(now); err != nil {
			return nil, err
		}
		return nil, tx.Payments().Update(ctx, p)
	})
	if err != nil {
		return nil, paymentError("process_payment", "failed to claim payment", err)
	}
	return s.chargeClaimed(ctx, "process_payment", claimed)
}

// chargeClaimed charges a payment already moved to PROCESSING and records
// the outcome.
func (s *PaymentServiceImpl) chargeClaimed(ctx context.Context, op string, claimed *domain.Payment) (*domain.Payment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("payment_id", claimed.ID.String()))

	txID, chargeErr := s.charge(ctx, claimed)

	final, err := s.mutate(ctx, claimed.ID, func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error) {
		if p.Version != claimed.Version {
			return nil, fmt.Errorf("%w: payment changed while the charge was in flight", store.ErrVersionConflict)
		}
		if chargeErr == nil {
			if err := p.Complete(txID, now); err != nil {
				return nil, err
			}
			if err := tx.Payments().Update(ctx, p); err != nil {
				return nil, err
			}
			return paymentEvent(events.PaymentCompleted, p, now)
		}

		if err := p.Fail(failureReason(chargeErr), now); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, err
		}
		return paymentEvent(events.PaymentFailed, p, now)
	})
	if err != nil {
		log.Error("failed to record charge outcome",
			slog.String("error", err.Error()),
			slog.Bool("charged", chargeErr == nil),
			slog.String("external_transaction_id", txID))
		return nil, paymentError(op, "failed to record charge outcome", err)
	}

	if chargeErr != nil {
		log.Warn("payment charge failed",
			slog.String("error", chargeErr.Error()),
			slog.Int("retry_count", final.RetryCount),
			slog.Int("max_retries", final.MaxRetries),
			slog.Bool("exhausted", final.IsExhausted()))
		return final, paymentError(op, "provider charge failed", chargeErr)
	}

	log.Info("payment completed", slog.String("external_transaction_id", txID))
	return final, nil
}

// charge calls the provider under the configured timeout.
func (s *PaymentServiceImpl) charge(ctx context.Context, p *domain.Payment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	txID, err := s.gateway.ChargePayment(ctx, p)
	return txID, providerFailure(ctx, err)
}

// providerFailure normalizes a provider error so that it always matches
// ErrProviderError, and ErrProviderTimeout when the deadline passed.
func providerFailure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderError) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}

func failureReason(err error) string {
	if errors.Is(err, ErrProviderTimeout) {
		return ReasonProviderTimeout
	}
	return truncateUTF8(err.Error(), maxFailureReason)
}

// truncateUTF8 cuts s to at most max bytes without splitting a character.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// RetryPayment implements PaymentService.
//
// FAILED moves through RETRY_PENDING to PROCESSING in one transaction, so a
// failed claim leaves the payment FAILED and eligible for the retry sweep.
func (s *PaymentServiceImpl) RetryPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (*domain.Payment, error) {
	claimed, err := s.mutate(ctx, paymentID, func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error) {
		if err := requireCustomer(caller, p); err != nil {
			return nil, err
		}
		if err := p.ScheduleRetry(); err != nil {
			return nil, err
		}
		if err := p.StartProcessing(now); err != nil {
			return nil, err
		}
		return nil, tx.Payments().Update(ctx, p)
	})
	if err != nil {
		return nil, paymentError("retry_payment", "failed to claim payment for retry", err)
	}
	return s.chargeClaimed(ctx, "retry_payment", claimed)
}

// CancelPayment implements PaymentService.
func (s *PaymentServiceImpl) CancelPayment(ctx context.Context, caller domain.Caller, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	payment, err := s.mutate(ctx, paymentID, func(ctx context.Context, tx store.Store, p *domain.Payment, now time.Time) ([]*events.Event, error) {
		if err := requireCustomer(caller, p); err != nil {
			return nil, err
		}
		if err := p.Cancel(reason); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, err
		}
		return paymentEvent(events.PaymentCancelled, p, now)
	})
	if err != nil {
		return nil, paymentError("cancel_payment", "failed to cancel payment", err)
	}
	return payment, nil
}

// CancelPendingPaymentsForBid implements PaymentService.
func (s *PaymentServiceImpl) CancelPendingPaymentsForBid(ctx context.Context, bidID uuid.UUID, reason string) (int, error) {
	var cancelled int
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		payments, err := tx.Payments().ListByBid(ctx, bidID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		var evts []*events.Event
		for _, p := range payments {
			if p.Type != domain.PaymentTypeTaskPayment || p.Status != domain.PaymentStatusPending {
				continue
			}
			if err := p.Cancel(reason); err != nil {
				return nil, err
			}
			if err := tx.Payments().Update(ctx, p); err != nil {
				return nil, err
			}
			evt, err := events.NewPaymentEvent(events.PaymentCancelled, p, now)
			if err != nil {
				return nil, err
			}
			evts = append(evts, evt)
		}
		cancelled = len(evts)
		return evts, nil
	})
	if err != nil {
		return 0, paymentError("cancel_pending_payments_for_bid", "failed to cancel payments", err)
	}
	return cancelled, nil
}

// GrantRetries implements PaymentService.
func (s *PaymentServiceImpl) GrantRetries(ctx context.Context, caller domain.Caller, paymentID uuid.UUID, additional int) (*domain.Payment, error) {
	if err := requirePrivileged(caller); err != nil {
		return nil, err
	}
	payment, err := s.mutate(ctx, paymentID, func(ctx context.Context, tx store.Store, p *domain.Payment, _ time.Time) ([]*events.Event, error) {
		if err := p.GrantRetries(additional); err != nil {
			return nil, err
		}
		return nil, tx.Payments().Update(ctx, p)
	})
	if err != nil {
		return nil, paymentError("grant_retries", "failed to grant retries", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Warn("retry budget raised manually",
		slog.String("payment_id", paymentID.String()),
		slog.Int("additional", additional),
		slog.Int("max_retries", payment.MaxRetries))
	return payment, nil
}

// CheckProviderStatus implements PaymentService.
func (s *PaymentServiceImpl) CheckProviderStatus(ctx context.Context, caller domain.Caller, paymentID uuid.UUID) (gateway.ProviderStatus, error) {
	if err := requirePrivileged(caller); err != nil {
		return "", err
	}
	payment, err := s.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		return "", paymentError("check_provider_status", "failed to retrieve payment", err)
	}
	if payment.ExternalTransactionID == nil {
		return "", invalidOp("payment %s has no provider transaction", paymentID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()
	status, err := s.gateway.CheckPaymentStatus(ctx, *payment.ExternalTransactionID)
	if err != nil {
		return "", paymentError("check_provider_status", "provider query failed", providerFailure(ctx, err))
	}
	return status, nil
}
