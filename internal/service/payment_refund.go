package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/shopspring/decimal"
)

// refundAmount resolves the amount to refund. The cap is the gross amount,
// or the net amount when the platform keeps its fee.
func refundAmount(original *domain.Payment, input RefundInput) (decimal.Decimal, error) {
	limit := original.Amount
	if input.KeepServiceFee {
		limit = original.NetAmount
	}
	if input.Amount == nil {
		return limit, nil
	}

	amount := *input.Amount
	if err := domain.ValidateAmount(amount); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if amount.GreaterThan(limit) {
		return decimal.Zero, fmt.Errorf("%w: refund %s exceeds refundable %s", ErrInvalidAmount, amount, limit)
	}
	return amount, nil
}

// RefundPayment implements PaymentService.
//
// The refund is recorded as its own REFUND payment linked to the original.
// Both records move together: the original to REFUND_PENDING while the
// provider call is in flight, then to REFUNDED or REFUND_FAILED. Only admin
// and system callers may refund. The returned payment is the original.
func (s *PaymentServiceImpl) RefundPayment(ctx context.Context, caller domain.Caller, input RefundInput) (*domain.Payment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("payment_id", input.PaymentID.String()))

	var original, refund *domain.Payment
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		p, err := tx.Payments().GetByID(ctx, input.PaymentID)
		if err != nil {
			return nil, err
		}
		if err := requirePrivileged(caller); err != nil {
			return nil, err
		}
		if p.Type == domain.PaymentTypeRefund {
			return nil, invalidOp("cannot refund a refund")
		}
		amount, err := refundAmount(p, input)
		if err != nil {
			return nil, err
		}
		if err := p.BeginRefund(); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, err
		}

		r, err := domain.NewPayment(domain.NewPaymentParams{
			CustomerID:  p.CustomerID,
			TaskerID:    p.TaskerID,
			TaskID:      p.TaskID,
			BidID:       p.BidID,
			Amount:      amount,
			Currency:    p.Currency,
			Method:      p.Method,
			Type:        domain.PaymentTypeRefund,
			Description: input.Reason,
			MaxRetries:  1,
		})
		if err != nil {
			return nil, err
		}
		id := p.ID
		r.RefundOfID = &id
		if err := r.StartProcessing(s.clock.Now()); err != nil {
			return nil, err
		}
		if err := tx.Payments().Create(ctx, r); err != nil {
			return nil, err
		}

		original, refund = p, r
		return nil, nil
	})
	if err != nil {
		return nil, paymentError("refund_payment", "failed to start refund", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	txID, refundErr := s.gateway.RefundPayment(callCtx, original, refund)
	refundErr = providerFailure(callCtx, refundErr)
	cancel()

	var result *domain.Payment
	err = s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		now := s.clock.Now()
		p, err := tx.Payments().GetByID(ctx, original.ID)
		if err != nil {
			return nil, err
		}
		r, err := tx.Payments().GetByID(ctx, refund.ID)
		if err != nil {
			return nil, err
		}

		eventType := events.PaymentRefunded
		if refundErr == nil {
			if err := p.CompleteRefund(r.Amount, now); err != nil {
				return nil, err
			}
			if err := r.Complete(txID, now); err != nil {
				return nil, err
			}
		} else {
			eventType = events.PaymentRefundFailed
			reason := failureReason(refundErr)
			if err := p.FailRefund(reason); err != nil {
				return nil, err
			}
			if err := r.Fail(reason, now); err != nil {
				return nil, err
			}
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, r); err != nil {
			return nil, err
		}

		result = p
		return paymentEvent(eventType, p, now)
	})
	if err != nil {
		log.Error("failed to record refund outcome",
			slog.String("error", err.Error()),
			slog.String("refund_id", refund.ID.String()),
			slog.Bool("refunded", refundErr == nil))
		return nil, paymentError("refund_payment", "failed to record refund outcome", err)
	}

	if refundErr != nil {
		log.Error("refund failed, manual intervention required",
			slog.String("error", refundErr.Error()),
			slog.String("refund_id", refund.ID.String()))
		return result, paymentError("refund_payment", "provider refund failed", refundErr)
	}

	log.Info("payment refunded",
		slog.String("refund_id", refund.ID.String()),
		slog.String("amount", result.RefundedAmount.String()))
	return result, nil
}
