package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/mocks"
	"github.com/phrazzld/taskbid/internal/notify"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T, f *fixture) (*Orchestrator, *mocks.MockNotifier) {
	t.Helper()
	log, _ := logger.NewTestLogger()
	notifier := &mocks.MockNotifier{}
	orch, err := NewOrchestrator(f.payments, f.bids, f.gw, notifier, log)
	require.NoError(t, err)
	return orch, notifier
}

func TestNewOrchestrator(t *testing.T) {
	f := newFixture(t)
	notifier := &mocks.MockNotifier{}

	_, err := NewOrchestrator(nil, f.bids, f.gw, notifier, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(f.payments, f.bids, f.gw, nil, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(f.payments, f.bids, f.gw, notifier, nil)
	assert.NoError(t, err)
}

func TestOrchestratorBidAccepted(t *testing.T) {
	t.Run("creates payment, assigns task and notifies tasker", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.BidAccepted)))

		payments, err := f.store.Payments().ListByBid(f.ctx, bid.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.True(t, dec("150.00").Equal(payments[0].Amount))
		assert.Equal(t, domain.PaymentTypeTaskPayment, payments[0].Type)

		assert.Equal(t, gateway.TaskStatusAssigned, f.gw.TaskStatus(f.taskID))
		msgs := notifier.SentTo(f.tasker)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Bid accepted", msgs[0].Subject)
		assert.NotEmpty(t, msgs[0].Phone)
	})

	t.Run("redelivery creates no second payment", func(t *testing.T) {
		f := newFixture(t)
		orch, _ := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)
		evt := f.lastEvent(events.BidAccepted)

		require.NoError(t, orch.HandleEvent(f.ctx, evt))
		require.NoError(t, orch.HandleEvent(f.ctx, evt))

		payments, err := f.store.Payments().ListByBid(f.ctx, bid.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("bid released before delivery", func(t *testing.T) {
		f := newFixture(t)
		orch, _ := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)
		evt := f.lastEvent(events.BidAccepted)
		_, err = f.bids.WithdrawBid(f.ctx, taskerCaller(f.tasker), bid.ID, "")
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, evt))

		payments, err := f.store.Payments().ListByBid(f.ctx, bid.ID)
		require.NoError(t, err)
		assert.Empty(t, payments)
	})

	t.Run("payment creation failure is returned for redelivery", func(t *testing.T) {
		f := newFixture(t)
		orch, _ := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)
		f.gw.GetUserInfoFn = func(ctx context.Context, id uuid.UUID) (*gateway.UserInfo, error) {
			return nil, gateway.ErrUnavailable
		}

		err = orch.HandleEvent(f.ctx, f.lastEvent(events.BidAccepted))

		assert.ErrorIs(t, err, gateway.ErrUnavailable)
		assert.Empty(t, f.gw.StatusUpdates(), "no side effects before the payment exists")
	})
}

func TestOrchestratorBidReleased(t *testing.T) {
	t.Run("withdrawal of accepted bid cancels its payment and reopens task", func(t *testing.T) {
		f := newFixture(t)
		orch, _ := newOrchestrator(t, f)
		bid, p := f.acceptedPayment("150.00")
		_, err := f.bids.WithdrawBid(f.ctx, taskerCaller(f.tasker), bid.ID, "sick")
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.BidWithdrawn)))

		assert.Equal(t, domain.PaymentStatusCancelled, f.getPayment(p.ID).Status)
		updates := f.gw.StatusUpdates()
		require.Len(t, updates, 1)
		assert.Equal(t, gateway.TaskStatusOpen, updates[0].Status)
		assert.Nil(t, updates[0].TaskerID)
	})

	t.Run("withdrawal of pending bid is ignored", func(t *testing.T) {
		f := newFixture(t)
		orch, _ := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.WithdrawBid(f.ctx, taskerCaller(f.tasker), bid.ID, "")
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.BidWithdrawn)))

		assert.Empty(t, f.gw.StatusUpdates())
	})
}

func TestOrchestratorNotifications(t *testing.T) {
	t.Run("rejected bid notifies tasker", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.RejectBid(f.ctx, customerCaller(f.customer), bid.ID, "")
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.BidRejected)))

		assert.Len(t, notifier.SentTo(f.tasker), 1)
	})

	t.Run("completed bid marks task completed", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		bid := f.placeBid(f.tasker, "150.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)
		_, err = f.bids.CompleteBid(f.ctx, taskerCaller(f.tasker), bid.ID)
		require.NoError(t, err)

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.BidCompleted)))

		assert.Equal(t, gateway.TaskStatusCompleted, f.gw.TaskStatus(f.taskID))
		assert.Len(t, notifier.SentTo(f.customer), 1)
	})

	t.Run("completed payment marks task paid and notifies both parties", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		completedPayment(t, f, "150.00")

		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.PaymentCompleted)))

		updates := f.gw.StatusUpdates()
		require.Len(t, updates, 1)
		assert.Equal(t, gateway.TaskStatusPaid, updates[0].Status)
		require.NotNil(t, updates[0].TaskerID)
		assert.Equal(t, f.tasker, *updates[0].TaskerID)
		assert.Len(t, notifier.SentTo(f.customer), 1)
		assert.Len(t, notifier.SentTo(f.tasker), 1)
	})

	t.Run("only exhausted failures notify", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		_, p := f.acceptedPayment("150.00")
		f.gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
			return "", gateway.ErrProviderError
		}

		_, err := f.payments.ProcessPayment(f.ctx, domain.SystemCaller(), p.ID)
		require.ErrorIs(t, err, ErrProviderError)
		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.PaymentFailed)))
		assert.Empty(t, notifier.Sent())

		for i := 0; i < 2; i++ {
			_, err = f.payments.RetryPayment(f.ctx, domain.SystemCaller(), p.ID)
			require.ErrorIs(t, err, ErrProviderError)
		}
		require.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.PaymentFailed)))
		msgs := notifier.SentTo(f.customer)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Payment failed", msgs[0].Subject)
	})

	t.Run("notification failures do not fail the event", func(t *testing.T) {
		f := newFixture(t)
		orch, notifier := newOrchestrator(t, f)
		notifier.NotifyFn = func(ctx context.Context, msg notify.Message) error {
			return errors.New("sms gateway down")
		}
		f.gw.UpdateTaskStatusFn = func(ctx context.Context, id uuid.UUID, s gateway.TaskStatus, tasker *uuid.UUID) error {
			return gateway.ErrUnavailable
		}
		completedPayment(t, f, "150.00")

		assert.NoError(t, orch.HandleEvent(f.ctx, f.lastEvent(events.PaymentCompleted)))
	})
}

func TestOrchestratorRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	orch, _ := newOrchestrator(t, f)

	err := orch.HandleEvent(f.ctx, &events.Event{
		ID:            uuid.New(),
		Type:          events.BidAccepted,
		AggregateType: events.AggregateBid,
		Payload:       json.RawMessage(`{"bid_id": 42}`),
	})

	assert.Error(t, err)
}
