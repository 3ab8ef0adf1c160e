package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/mocks"
	"github.com/phrazzld/taskbid/internal/platform/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBidService(t *testing.T) {
	clk := clock.NewFake(testNow)
	st := memstore.New(clk)
	gw := mocks.NewMockGateway()

	t.Run("valid dependencies", func(t *testing.T) {
		svc, err := NewBidService(st, gw, clk, testBidConfig(), nil)
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewBidService(nil, gw, clk, testBidConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("nil gateway", func(t *testing.T) {
		_, err := NewBidService(st, nil, clk, testBidConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("inverted amount bounds", func(t *testing.T) {
		cfg := testBidConfig()
		cfg.MaxAmount = dec("1.00")
		_, err := NewBidService(st, gw, clk, cfg, nil)
		assert.Error(t, err)
	})

	t.Run("unknown policy", func(t *testing.T) {
		cfg := testBidConfig()
		cfg.AutoAcceptPolicy = "random"
		_, err := NewBidService(st, gw, clk, cfg, nil)
		assert.Error(t, err)
	})
}

func TestCreateBid(t *testing.T) {
	t.Run("creates pending bid and records event", func(t *testing.T) {
		f := newFixture(t)
		hours := 3

		bid, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{
			TaskID:         f.taskID,
			Amount:         dec("120.00"),
			Message:        "Can start tomorrow",
			EstimatedHours: &hours,
		})

		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusPending, bid.Status)
		assert.Equal(t, f.customer, bid.CustomerID, "customer comes from the task")
		assert.Equal(t, f.tasker, bid.TaskerID, "tasker defaults to caller")
		assert.Equal(t, testNow, bid.CreatedAt)
		assert.Equal(t, int64(1), bid.Version)
		assert.Equal(t, []string{events.BidCreated}, f.outboxTypes())
	})

	t.Run("signals after commit", func(t *testing.T) {
		f := newFixture(t)
		sig := &countingSignaler{}
		f.bids.SetSignaler(sig)

		f.placeBid(f.tasker, "50.00")

		assert.Equal(t, 1, sig.n)
	})

	t.Run("duplicate bid", func(t *testing.T) {
		f := newFixture(t)
		f.placeBid(f.tasker, "50.00")

		_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{TaskID: f.taskID, Amount: dec("45.00")})

		assert.ErrorIs(t, err, ErrDuplicateBid)
	})

	t.Run("amount outside bounds", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []string{"0", "-5.00", "4.99", "10000.01", "10.001"} {
			_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{TaskID: f.taskID, Amount: dec(amount)})
			assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		}
	})

	t.Run("customer role cannot bid", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bids.CreateBid(f.ctx, customerCaller(f.tasker), CreateBidInput{TaskID: f.taskID, Amount: dec("50.00")})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("bid on behalf of another tasker", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{
			TaskID:   f.taskID,
			TaskerID: f.tasker2,
			Amount:   dec("50.00"),
		})
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{TaskID: uuid.New(), Amount: dec("50.00")})
		assert.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("task not open", func(t *testing.T) {
		f := newFixture(t)
		f.gw.SetTaskStatus(f.taskID, gateway.TaskStatusAssigned)
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{TaskID: f.taskID, Amount: dec("50.00")})
		assert.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("own task", func(t *testing.T) {
		f := newFixture(t)
		// A user holding both roles bids on their own task.
		dual := f.gw.AddUser(domain.RoleCustomer, domain.RoleTasker)
		ownTask := f.gw.AddTask(dual)
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(dual), CreateBidInput{TaskID: ownTask, Amount: dec("50.00")})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("user without tasker role", func(t *testing.T) {
		f := newFixture(t)
		other := f.gw.AddUser(domain.RoleCustomer)
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(other), CreateBidInput{TaskID: f.taskID, Amount: dec("50.00")})
		assert.ErrorIs(t, err, ErrInvalidParty)
	})

	t.Run("task service unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.gw.GetTaskInfoFn = func(ctx context.Context, id uuid.UUID) (*gateway.TaskInfo, error) {
			return nil, gateway.ErrUnavailable
		}
		_, err := f.bids.CreateBid(f.ctx, taskerCaller(f.tasker), CreateBidInput{TaskID: f.taskID, Amount: dec("50.00")})

		var svcErr *ServiceError
		require.True(t, errors.As(err, &svcErr))
		assert.Equal(t, "create_bid", svcErr.Operation)
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
	})
}

func TestGetAndListBids(t *testing.T) {
	f := newFixture(t)
	bid1 := f.placeBid(f.tasker, "50.00")
	bid2 := f.placeBid(f.tasker2, "60.00")

	t.Run("customer sees all bids", func(t *testing.T) {
		bids, err := f.bids.ListTaskBids(f.ctx, customerCaller(f.customer), f.taskID)
		require.NoError(t, err)
		require.Len(t, bids, 2)
		assert.Equal(t, bid1.ID, bids[0].ID)
		assert.Equal(t, bid2.ID, bids[1].ID)
	})

	t.Run("tasker sees only own bid", func(t *testing.T) {
		bids, err := f.bids.ListTaskBids(f.ctx, taskerCaller(f.tasker), f.taskID)
		require.NoError(t, err)
		require.Len(t, bids, 1)
		assert.Equal(t, bid1.ID, bids[0].ID)
	})

	t.Run("other tasker cannot get bid", func(t *testing.T) {
		_, err := f.bids.GetBid(f.ctx, taskerCaller(f.tasker2), bid1.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("admin can get bid", func(t *testing.T) {
		got, err := f.bids.GetBid(f.ctx, adminCaller(), bid1.ID)
		require.NoError(t, err)
		assert.Equal(t, bid1.Amount, got.Amount)
	})

	t.Run("missing bid", func(t *testing.T) {
		_, err := f.bids.GetBid(f.ctx, adminCaller(), uuid.New())
		assert.ErrorIs(t, err, ErrBidNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateBid(t *testing.T) {
	f := newFixture(t)
	bid := f.placeBid(f.tasker, "50.00")
	msg := "revised"

	t.Run("tasker revises pending bid", func(t *testing.T) {
		updated, err := f.bids.UpdateBid(f.ctx, taskerCaller(f.tasker), bid.ID, dec("45.00"), &msg)
		require.NoError(t, err)
		assert.True(t, dec("45.00").Equal(updated.Amount))
		assert.Equal(t, "revised", updated.Message)
		assert.Equal(t, int64(2), updated.Version)
	})

	t.Run("customer cannot revise", func(t *testing.T) {
		_, err := f.bids.UpdateBid(f.ctx, customerCaller(f.customer), bid.ID, dec("45.00"), nil)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("accepted bid cannot be revised", func(t *testing.T) {
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)

		_, err = f.bids.UpdateBid(f.ctx, taskerCaller(f.tasker), bid.ID, dec("40.00"), nil)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})
}

func TestAcceptBid(t *testing.T) {
	t.Run("accepts bid and rejects pending siblings atomically", func(t *testing.T) {
		f := newFixture(t)
		bid1 := f.placeBid(f.tasker, "50.00")
		bid2 := f.placeBid(f.tasker2, "60.00")
		f.clock.Advance(1)

		accepted, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid1.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusAccepted, accepted.Status)
		require.NotNil(t, accepted.AcceptedAt)
		assert.Equal(t, f.clock.Now(), *accepted.AcceptedAt)

		sibling := f.getBid(bid2.ID)
		assert.Equal(t, domain.BidStatusRejected, sibling.Status)
		assert.Equal(t, RejectReasonOtherAccepted, sibling.StatusReason)

		assert.Equal(t, []string{
			events.BidCreated, events.BidCreated, events.BidAccepted, events.BidRejected,
		}, f.outboxTypes())
	})

	t.Run("only the task customer may accept", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")

		_, err := f.bids.AcceptBid(f.ctx, customerCaller(uuid.New()), bid.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
		_, err = f.bids.AcceptBid(f.ctx, taskerCaller(f.tasker), bid.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("second accept on same task fails", func(t *testing.T) {
		f := newFixture(t)
		bid1 := f.placeBid(f.tasker, "50.00")
		bid2 := f.placeBid(f.tasker2, "60.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid1.ID)
		require.NoError(t, err)

		_, err = f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid2.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("concurrent accepts on one task leave exactly one accepted bid", func(t *testing.T) {
		f := newFixture(t)
		ids := []uuid.UUID{
			f.placeBid(f.tasker, "50.00").ID,
			f.placeBid(f.tasker2, "60.00").ID,
		}

		var wg sync.WaitGroup
		errs := make([]error, len(ids))
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id uuid.UUID) {
				defer wg.Done()
				_, errs[i] = f.bids.AcceptBid(f.ctx, customerCaller(f.customer), id)
			}(i, id)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrInvalidOperation)
		}
		assert.Equal(t, 1, succeeded)

		bids, err := f.store.Bids().ListByTask(f.ctx, f.taskID)
		require.NoError(t, err)
		accepted := 0
		for _, b := range bids {
			if b.Status == domain.BidStatusAccepted {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
	})
}

func TestBidTransitions(t *testing.T) {
	t.Run("customer rejects pending bid", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")

		rejected, err := f.bids.RejectBid(f.ctx, customerCaller(f.customer), bid.ID, "too expensive")

		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusRejected, rejected.Status)
		assert.Equal(t, "too expensive", rejected.StatusReason)
	})

	t.Run("tasker cannot reject", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		_, err := f.bids.RejectBid(f.ctx, taskerCaller(f.tasker), bid.ID, "")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("tasker withdraws accepted bid", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)

		withdrawn, err := f.bids.WithdrawBid(f.ctx, taskerCaller(f.tasker), bid.ID, "sick")

		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusWithdrawn, withdrawn.Status)

		var payload events.BidPayload
		require.NoError(t, f.lastEvent(events.BidWithdrawn).UnmarshalPayload(&payload))
		assert.Equal(t, domain.BidStatusAccepted, payload.PreviousStatus)
	})

	t.Run("complete requires accepted", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")

		_, err := f.bids.CompleteBid(f.ctx, taskerCaller(f.tasker), bid.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)

		_, err = f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)
		completed, err := f.bids.CompleteBid(f.ctx, taskerCaller(f.tasker), bid.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusCompleted, completed.Status)
	})

	t.Run("either party cancels accepted bid", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		_, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		require.NoError(t, err)

		_, err = f.bids.CancelBid(f.ctx, taskerCaller(f.tasker2), bid.ID, "")
		assert.ErrorIs(t, err, ErrNotOwner)

		cancelled, err := f.bids.CancelBid(f.ctx, customerCaller(f.customer), bid.ID, "changed plans")
		require.NoError(t, err)
		assert.Equal(t, domain.BidStatusCancelled, cancelled.Status)
	})

	t.Run("terminal bids stay terminal", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")
		_, err := f.bids.RejectBid(f.ctx, customerCaller(f.customer), bid.ID, "")
		require.NoError(t, err)

		_, err = f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)
		_, err = f.bids.WithdrawBid(f.ctx, taskerCaller(f.tasker), bid.ID, "")
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("failed transition leaves no event", func(t *testing.T) {
		f := newFixture(t)
		bid := f.placeBid(f.tasker, "50.00")

		_, err := f.bids.CancelBid(f.ctx, customerCaller(f.customer), bid.ID, "")

		assert.ErrorIs(t, err, ErrInvalidOperation)
		assert.Equal(t, []string{events.BidCreated}, f.outboxTypes())
		assert.Equal(t, int64(1), f.getBid(bid.ID).Version)
	})
}
