package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/notify"
	"github.com/phrazzld/taskbid/internal/platform/logger"
)

// ReasonBidReleased is recorded on payments cancelled because their bid
// was withdrawn or cancelled after acceptance.
const ReasonBidReleased = "bid no longer accepted"

// Orchestrator implements events.EventHandler. It carries the consequences
// of bid and payment transitions across lifecycles and to the outside world.
//
// Events are delivered at least once, so every reaction must be safe to
// repeat. Payment creation relies on the store's one-active-payment rule
// for that; task status pushes and notifications are idempotent or
// tolerable when repeated. Only failures of the payment reactions are
// returned, which leaves the event in the outbox for redelivery.
type Orchestrator struct {
	payments PaymentService
	bids     BidService
	gateway  gateway.ExternalGateway
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
// It returns an error if any of the required dependencies are nil.
func NewOrchestrator(
	payments PaymentService,
	bids BidService,
	gw gateway.ExternalGateway,
	notifier notify.Notifier,
	log *slog.Logger,
) (*Orchestrator, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment service cannot be nil")
	}
	if bids == nil {
		return nil, fmt.Errorf("bid service cannot be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		payments: payments,
		bids:     bids,
		gateway:  gw,
		notifier: notifier,
		logger:   log.With(slog.String("component", "orchestrator")),
	}, nil
}

var _ events.EventHandler = (*Orchestrator)(nil)

// EventTypes returns the event types the orchestrator reacts to.
func (o *Orchestrator) EventTypes() []string {
	return []string{
		events.BidAccepted,
		events.BidRejected,
		events.BidWithdrawn,
		events.BidCancelled,
		events.BidCompleted,
		events.PaymentCompleted,
		events.PaymentFailed,
		events.PaymentRefunded,
		events.PaymentRefundFailed,
	}
}

// HandleEvent implements events.EventHandler.
func (o *Orchestrator) HandleEvent(ctx context.Context, event *events.Event) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With(
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type))
	ctx = logger.WithContext(ctx, log)

	switch event.AggregateType {
	case events.AggregateBid:
		var payload events.BidPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			log.Error("failed to unmarshal bid payload", slog.String("error", err.Error()))
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return o.handleBid(ctx, event.Type, payload)
	case events.AggregatePayment:
		var payload events.PaymentPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			log.Error("failed to unmarshal payment payload", slog.String("error", err.Error()))
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		o.handlePayment(ctx, event.Type, payload)
		return nil
	default:
		log.Debug("ignoring event with unsupported aggregate", slog.String("aggregate_type", event.AggregateType))
		return nil
	}
}

func (o *Orchestrator) handleBid(ctx context.Context, eventType string, p events.BidPayload) error {
	switch eventType {
	case events.BidAccepted:
		return o.onBidAccepted(ctx, p)
	case events.BidRejected:
		o.notifyUser(ctx, p.TaskerID, "Bid rejected",
			fmt.Sprintf("Your bid of %s was not accepted.", p.Amount.StringFixed(2)))
	case events.BidWithdrawn, events.BidCancelled:
		if p.PreviousStatus == domain.BidStatusAccepted {
			return o.onBidReleased(ctx, p)
		}
	case events.BidCompleted:
		o.pushTaskStatus(ctx, p.TaskID, gateway.TaskStatusCompleted, &p.TaskerID)
		o.notifyUser(ctx, p.CustomerID, "Task completed",
			"Your tasker marked the task as completed.")
	}
	return nil
}

// onBidAccepted creates the bid's task payment. A redelivered event finds
// the payment already there and succeeds without creating another.
func (o *Orchestrator) onBidAccepted(ctx context.Context, p events.BidPayload) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("bid_id", p.BidID.String()))
	system := domain.SystemCaller()

	bid, err := o.bids.GetBid(ctx, system, p.BidID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("accepted bid no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load accepted bid: %w", err)
	}
	if bid.Status != domain.BidStatusAccepted {
		log.Info("bid left accepted state before payment creation", slog.String("status", string(bid.Status)))
		return nil
	}

	bidID, taskID, taskerID := bid.ID, bid.TaskID, bid.TaskerID
	payment, err := o.payments.CreatePayment(ctx, system, CreatePaymentInput{
		CustomerID:  bid.CustomerID,
		TaskerID:    &taskerID,
		TaskID:      &taskID,
		BidID:       &bidID,
		Amount:      bid.Amount,
		Type:        domain.PaymentTypeTaskPayment,
		Description: fmt.Sprintf("Payment for task %s", taskID),
	})
	switch {
	case errors.Is(err, ErrDuplicatePayment):
		log.Debug("payment already exists for bid")
	case err != nil:
		log.Error("failed to create payment for accepted bid", slog.String("error", err.Error()))
		return fmt.Errorf("failed to create payment: %w", err)
	default:
		log.Info("created payment for accepted bid", slog.String("payment_id", payment.ID.String()))
	}

	o.pushTaskStatus(ctx, taskID, gateway.TaskStatusAssigned, &taskerID)
	o.notifyUser(ctx, taskerID, "Bid accepted",
		fmt.Sprintf("Your bid of %s was accepted.", bid.Amount.StringFixed(2)))
	return nil
}

// onBidReleased undoes the consequences of an acceptance.
func (o *Orchestrator) onBidReleased(ctx context.Context, p events.BidPayload) error {
	n, err := o.payments.CancelPendingPaymentsForBid(ctx, p.BidID, ReasonBidReleased)
	if err != nil {
		return fmt.Errorf("failed to cancel payments: %w", err)
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, o.logger).Info("cancelled pending payments of released bid",
			slog.String("bid_id", p.BidID.String()),
			slog.Int("count", n))
	}
	o.pushTaskStatus(ctx, p.TaskID, gateway.TaskStatusOpen, nil)
	return nil
}

func (o *Orchestrator) handlePayment(ctx context.Context, eventType string, p events.PaymentPayload) {
	amount := p.Amount.StringFixed(2)
	switch eventType {
	case events.PaymentCompleted:
		if p.Type != domain.PaymentTypeTaskPayment {
			return
		}
		if p.TaskID != nil {
			o.pushTaskStatus(ctx, *p.TaskID, gateway.TaskStatusPaid, p.TaskerID)
		}
		o.notifyUser(ctx, p.CustomerID, "Payment completed",
			fmt.Sprintf("Your payment of %s went through.", amount))
		if p.TaskerID != nil {
			o.notifyUser(ctx, *p.TaskerID, "Payment received",
				fmt.Sprintf("You have been paid %s.", amount))
		}
	case events.PaymentFailed:
		if p.Exhausted {
			o.notifyUser(ctx, p.CustomerID, "Payment failed",
				fmt.Sprintf("Your payment of %s could not be processed.", amount))
		}
	case events.PaymentRefunded:
		o.notifyUser(ctx, p.CustomerID, "Refund issued",
			fmt.Sprintf("%s has been refunded.", p.RefundedAmount.StringFixed(2)))
	case events.PaymentRefundFailed:
		o.notifyUser(ctx, p.CustomerID, "Refund failed",
			fmt.Sprintf("The refund of your payment of %s failed. Support will contact you.", amount))
	}
}

// pushTaskStatus updates the task service. Failures are logged only; the
// task service converges on the next transition or a manual fix.
func (o *Orchestrator) pushTaskStatus(ctx context.Context, taskID uuid.UUID, status gateway.TaskStatus, taskerID *uuid.UUID) {
	if err := o.gateway.UpdateTaskStatus(ctx, taskID, status, taskerID); err != nil {
		logger.FromContextOrDefault(ctx, o.logger).Warn("failed to push task status",
			slog.String("task_id", taskID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
}

// notifyUser looks up the user's phone and sends the message. Failures are
// logged only.
func (o *Orchestrator) notifyUser(ctx context.Context, userID uuid.UUID, subject, body string) {
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("user_id", userID.String()))

	info, err := o.gateway.GetUserInfo(ctx, userID)
	if err != nil {
		log.Warn("failed to look up notification recipient", slog.String("error", err.Error()))
		return
	}

	err = o.notifier.Notify(ctx, notify.Message{
		UserID:  userID,
		Phone:   info.Phone,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		log.Warn("failed to send notification",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
