package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/mocks"
	"github.com/phrazzld/taskbid/internal/platform/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentService(t *testing.T) {
	clk := clock.NewFake(testNow)
	st := memstore.New(clk)
	gw := mocks.NewMockGateway()

	_, err := NewPaymentService(st, gw, clk, testPaymentConfig(), nil)
	assert.NoError(t, err)

	_, err = NewPaymentService(st, gw, nil, testPaymentConfig(), nil)
	assert.Error(t, err)

	cfg := testPaymentConfig()
	cfg.FeePercentage = dec("101")
	_, err = NewPaymentService(st, gw, clk, cfg, nil)
	assert.Error(t, err)

	cfg = testPaymentConfig()
	cfg.ProviderTimeout = 0
	_, err = NewPaymentService(st, gw, clk, cfg, nil)
	assert.Error(t, err)
}

func TestCreatePayment(t *testing.T) {
	t.Run("fixes fee and net amount at creation", func(t *testing.T) {
		tests := []struct {
			amount string
			fee    string
			net    string
		}{
			{"100.00", "10.00", "90.00"},
			{"12.25", "1.22", "11.03"},
			{"12.35", "1.24", "11.11"},
			{"0.01", "0.00", "0.01"},
		}
		for _, tt := range tests {
			t.Run(tt.amount, func(t *testing.T) {
				f := newFixture(t)
				bid := f.placeBid(f.tasker, "50.00")
				input := taskPaymentInput(bid)
				input.Amount = dec(tt.amount)

				p, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), input)

				require.NoError(t, err)
				assert.True(t, dec(tt.fee).Equal(p.ServiceFee), "fee %s", p.ServiceFee)
				assert.True(t, dec(tt.net).Equal(p.NetAmount), "net %s", p.NetAmount)
				assert.True(t, p.Amount.Equal(p.ServiceFee.Add(p.NetAmount)))

				stored := f.getPayment(p.ID)
				assert.True(t, p.ServiceFee.Equal(stored.ServiceFee))
				assert.True(t, p.NetAmount.Equal(stored.NetAmount))
			})
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")

		assert.Equal(t, domain.PaymentStatusPending, p.Status)
		assert.Equal(t, domain.PaymentTypeTaskPayment, p.Type)
		assert.Equal(t, domain.PaymentMethodCreditCard, p.Method)
		assert.Equal(t, "USD", p.Currency)
		assert.Equal(t, 3, p.MaxRetries)
		assert.Contains(t, f.outboxTypes(), events.PaymentCreated)
	})

	t.Run("no fee on other payment types", func(t *testing.T) {
		f := newFixture(t)
		p, err := f.payments.CreatePayment(f.ctx, customerCaller(f.customer), CreatePaymentInput{
			CustomerID: f.customer,
			Amount:     dec("40.00"),
			Type:       domain.PaymentTypeDeposit,
		})
		require.NoError(t, err)
		assert.True(t, p.ServiceFee.IsZero())
		assert.True(t, dec("40.00").Equal(p.NetAmount))
	})

	t.Run("second active payment for a bid is rejected", func(t *testing.T) {
		f := newFixture(t)
		bid, _ := f.acceptedPayment("50.00")

		_, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), taskPaymentInput(bid))

		assert.ErrorIs(t, err, ErrDuplicatePayment)
	})

	t.Run("concurrent creates for one bid produce one payment", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.payments.CreatePayment(f.ctx, domain.SystemCaller(), taskPaymentInput(bid))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicatePayment)
		}
		assert.Equal(t, 1, created)
		payments, err := f.store.Payments().ListByBid(f.ctx, bid.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("task payment without bid", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), CreatePaymentInput{
			CustomerID: f.customer,
			Amount:     dec("40.00"),
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("invalid amount", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		input := taskPaymentInput(bid)
		input.Amount = dec("-1.00")
		_, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), input)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("caller pays for someone else", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		_, err := f.payments.CreatePayment(f.ctx, customerCaller(uuid.New()), taskPaymentInput(bid))
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("unknown tasker", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		input := taskPaymentInput(bid)
		stranger := uuid.New()
		input.TaskerID = &stranger

		_, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), input)

		assert.ErrorIs(t, err, ErrInvalidParty)
	})

	t.Run("user service unavailable is not a party error", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		f.gw.GetUserInfoFn = func(ctx context.Context, id uuid.UUID) (*gateway.UserInfo, error) {
			return nil, gateway.ErrUnavailable
		}

		_, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), taskPaymentInput(bid))

		assert.NotErrorIs(t, err, ErrInvalidParty)
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
	})
}

func TestProcessPayment(t *testing.T) {
	t.Run("successful charge completes payment", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")

		done, err := f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, done.Status)
		require.NotNil(t, done.ExternalTransactionID)
		assert.Equal(t, "txn_"+p.ID.String(), *done.ExternalTransactionID)
		assert.NotNil(t, done.CompletedAt)
		assert.Equal(t, events.PaymentCompleted, f.outboxTypes()[len(f.outboxTypes())-1])
	})

	t.Run("provider decline fails payment and consumes retry budget", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")
		f.gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
			return "", errors.New("card declined")
		}

		failed, err := f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)

		assert.ErrorIs(t, err, ErrProviderError)
		require.NotNil(t, failed)
		assert.Equal(t, domain.PaymentStatusFailed, failed.Status)
		assert.Equal(t, 1, failed.RetryCount)
		require.NotNil(t, failed.FailureReason)
		assert.Contains(t, *failed.FailureReason, "card declined")
		assert.Equal(t, domain.PaymentStatusFailed, f.getPayment(p.ID).Status)
	})

	t.Run("provider timeout counts as failure", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")
		f.gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}

		failed, err := f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)

		assert.ErrorIs(t, err, ErrProviderTimeout)
		assert.ErrorIs(t, err, ErrProviderError)
		require.NotNil(t, failed)
		assert.Equal(t, ReasonProviderTimeout, *failed.FailureReason)
		assert.Equal(t, 1, failed.RetryCount)
	})

	t.Run("completed payment cannot be processed again", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")
		_, err := f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)
		require.NoError(t, err)

		_, err = f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)

		assert.ErrorIs(t, err, ErrInvalidOperation)
		assert.Len(t, f.gw.Charges(), 1)
	})

	t.Run("tasker cannot trigger charge", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")
		_, err := f.payments.ProcessPayment(f.ctx, taskerCaller(f.tasker), p.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("missing payment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.payments.ProcessPayment(f.ctx, domain.SystemCaller(), uuid.New())
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestRetryBudget(t *testing.T) {
	f := newFixture(t)
	_, p := f.acceptedPayment("50.00")
	f.gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
		return "", gateway.ErrProviderError
	}
	caller := customerCaller(f.customer)

	_, err := f.payments.ProcessPayment(f.ctx, caller, p.ID)
	require.ErrorIs(t, err, ErrProviderError)
	for i := 0; i < 2; i++ {
		_, err = f.payments.RetryPayment(f.ctx, caller, p.ID)
		require.ErrorIs(t, err, ErrProviderError)
	}

	exhausted := f.getPayment(p.ID)
	assert.Equal(t, 3, exhausted.RetryCount)
	assert.True(t, exhausted.IsExhausted())

	var payload events.PaymentPayload
	require.NoError(t, f.lastEvent(events.PaymentFailed).UnmarshalPayload(&payload))
	assert.True(t, payload.Exhausted)

	t.Run("exhausted payment is not retried", func(t *testing.T) {
		_, err := f.payments.RetryPayment(f.ctx, caller, p.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)
		assert.Len(t, f.gw.Charges(), 3)
	})

	t.Run("only admins grant retries", func(t *testing.T) {
		_, err := f.payments.GrantRetries(f.ctx, caller, p.ID, 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("granted retry succeeds", func(t *testing.T) {
		granted, err := f.payments.GrantRetries(f.ctx, adminCaller(), p.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 4, granted.MaxRetries)

		f.gw.ChargePaymentFn = nil
		done, err := f.payments.RetryPayment(f.ctx, caller, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, done.Status)
		assert.Nil(t, done.FailureReason)

		for _, id := range f.gw.Charges() {
			assert.Equal(t, p.ID, id, "every attempt reuses the payment ID as idempotency key")
		}
	})
}

func TestFailureReason(t *testing.T) {
	t.Run("long multibyte message is cut on a character boundary", func(t *testing.T) {
		msg := strings.Repeat("é", 301) // 602 bytes

		reason := failureReason(errors.New(msg))

		assert.LessOrEqual(t, len(reason), maxFailureReason)
		assert.True(t, utf8.ValidString(reason))
		assert.Equal(t, strings.Repeat("é", 250), reason)
	})

	t.Run("odd boundary backs off one byte", func(t *testing.T) {
		msg := "a" + strings.Repeat("é", 300)

		reason := failureReason(errors.New(msg))

		assert.True(t, utf8.ValidString(reason))
		assert.Len(t, reason, maxFailureReason-1)
	})

	t.Run("short message is unchanged", func(t *testing.T) {
		assert.Equal(t, "card declined", failureReason(errors.New("card declined")))
	})

	t.Run("timeout uses the fixed reason", func(t *testing.T) {
		assert.Equal(t, ReasonProviderTimeout, failureReason(ErrProviderTimeout))
	})
}

func completedPayment(t *testing.T, f *fixture, amount string) *domain.Payment {
	t.Helper()
	_, p := f.acceptedPayment(amount)
	p, err := f.payments.ProcessPayment(f.ctx, customerCaller(f.customer), p.ID)
	require.NoError(t, err)
	return p
}

func TestRefundPayment(t *testing.T) {
	t.Run("full refund", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")

		refunded, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{PaymentID: p.ID, Reason: "no show"})

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
		assert.True(t, dec("100.00").Equal(refunded.RefundedAmount))
		assert.NotNil(t, refunded.RefundedAt)

		all, err := f.store.Payments().ListByBid(f.ctx, *p.BidID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		refund := all[1]
		assert.Equal(t, domain.PaymentTypeRefund, refund.Type)
		assert.Equal(t, domain.PaymentStatusCompleted, refund.Status)
		require.NotNil(t, refund.RefundOfID)
		assert.Equal(t, p.ID, *refund.RefundOfID)
		assert.Equal(t, []uuid.UUID{refund.ID}, f.gw.Refunds())
		assert.Equal(t, events.PaymentRefunded, f.outboxTypes()[len(f.outboxTypes())-1])
	})

	t.Run("keeping the service fee caps the refund at net", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")

		refunded, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{PaymentID: p.ID, KeepServiceFee: true})
		require.NoError(t, err)
		assert.True(t, dec("90.00").Equal(refunded.RefundedAmount))
	})

	t.Run("refund above cap", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")
		amount := decimal.RequireFromString("95.00")

		_, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{
			PaymentID:      p.ID,
			Amount:         &amount,
			KeepServiceFee: true,
		})

		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Equal(t, domain.PaymentStatusCompleted, f.getPayment(p.ID).Status)
	})

	t.Run("partial refund", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")
		amount := dec("25.50")

		refunded, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{PaymentID: p.ID, Amount: &amount})
		require.NoError(t, err)
		assert.True(t, amount.Equal(refunded.RefundedAmount))
	})

	t.Run("system caller can refund", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "40.00")

		refunded, err := f.payments.RefundPayment(f.ctx, domain.SystemCaller(), RefundInput{PaymentID: p.ID})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
	})

	t.Run("paying customer cannot refund", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")

		_, err := f.payments.RefundPayment(f.ctx, customerCaller(f.customer), RefundInput{PaymentID: p.ID})

		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, f.gw.Refunds())
		unchanged := f.getPayment(p.ID)
		assert.Equal(t, domain.PaymentStatusCompleted, unchanged.Status)
		assert.True(t, unchanged.RefundedAmount.IsZero())
	})

	t.Run("provider failure leaves refund failed", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "100.00")
		f.gw.RefundPaymentFn = func(ctx context.Context, original, refund *domain.Payment) (string, error) {
			return "", gateway.ErrProviderError
		}

		failed, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{PaymentID: p.ID})

		assert.ErrorIs(t, err, ErrProviderError)
		require.NotNil(t, failed)
		assert.Equal(t, domain.PaymentStatusRefundFailed, failed.Status)
		assert.Equal(t, events.PaymentRefundFailed, f.outboxTypes()[len(f.outboxTypes())-1])
	})

	t.Run("pending payment cannot be refunded", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("100.00")

		_, err := f.payments.RefundPayment(f.ctx, adminCaller(), RefundInput{PaymentID: p.ID})

		assert.ErrorIs(t, err, ErrInvalidOperation)
		assert.Empty(t, f.gw.Refunds())
	})
}

func TestCancelPayments(t *testing.T) {
	t.Run("cancel pending payment", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.acceptedPayment("50.00")

		cancelled, err := f.payments.CancelPayment(f.ctx, customerCaller(f.customer), p.ID, "changed mind")

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
		assert.Equal(t, "changed mind", *cancelled.FailureReason)
	})

	t.Run("completed payment cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		p := completedPayment(t, f, "50.00")
		_, err := f.payments.CancelPayment(f.ctx, customerCaller(f.customer), p.ID, "")
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("cancel pending payments of a bid", func(t *testing.T) {
		f := newFixture(t)
		bid, p := f.acceptedPayment("50.00")

		n, err := f.payments.CancelPendingPaymentsForBid(f.ctx, bid.ID, ReasonBidReleased)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, domain.PaymentStatusCancelled, f.getPayment(p.ID).Status)

		n, err = f.payments.CancelPendingPaymentsForBid(f.ctx, bid.ID, ReasonBidReleased)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = f.payments.CreatePayment(f.ctx, domain.SystemCaller(), taskPaymentInput(bid))
		assert.NoError(t, err, "a cancelled payment no longer blocks the bid")
	})
}

func TestPaymentQueries(t *testing.T) {
	f := newFixture(t)
	_, p := f.acceptedPayment("50.00")

	t.Run("tasker can read own payment", func(t *testing.T) {
		got, err := f.payments.GetPayment(f.ctx, taskerCaller(f.tasker), p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("stranger cannot read payment", func(t *testing.T) {
		_, err := f.payments.GetPayment(f.ctx, customerCaller(uuid.New()), p.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("list filters by status", func(t *testing.T) {
		caller := customerCaller(f.customer)
		all, err := f.payments.ListCustomerPayments(f.ctx, caller, f.customer, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		completed, err := f.payments.ListCustomerPayments(f.ctx, caller, f.customer, []domain.PaymentStatus{domain.PaymentStatusCompleted})
		require.NoError(t, err)
		assert.Empty(t, completed)

		_, err = f.payments.ListCustomerPayments(f.ctx, caller, f.customer, []domain.PaymentStatus{"bogus"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("provider status requires transaction", func(t *testing.T) {
		_, err := f.payments.CheckProviderStatus(f.ctx, adminCaller(), p.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)

		_, err = f.payments.ProcessPayment(f.ctx, domain.SystemCaller(), p.ID)
		require.NoError(t, err)

		status, err := f.payments.CheckProviderStatus(f.ctx, adminCaller(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, gateway.ProviderStatusSucceeded, status)

		_, err = f.payments.CheckProviderStatus(f.ctx, customerCaller(f.customer), p.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
