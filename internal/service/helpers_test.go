package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/mocks"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/platform/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testBidConfig() BidConfig {
	return BidConfig{
		MinAmount:        dec("5.00"),
		MaxAmount:        dec("10000.00"),
		AutoAcceptAge:    48 * time.Hour,
		AutoAcceptPolicy: PolicyLowestAmount,
		Retention:        30 * 24 * time.Hour,
		BatchSize:        100,
		Workers:          2,
	}
}

func testPaymentConfig() PaymentConfig {
	return PaymentConfig{
		FeePercentage:   dec("10"),
		Currency:        "USD",
		DefaultMethod:   domain.PaymentMethodCreditCard,
		MaxRetries:      3,
		ProviderTimeout: 200 * time.Millisecond,
		PendingGrace:    5 * time.Minute,
		PendingTimeout:  24 * time.Hour,
		RetryBackoff:    10 * time.Minute,
		StuckProcessing: 15 * time.Minute,
		Retention:       90 * 24 * time.Hour,
		BatchSize:       100,
		Workers:         2,
	}
}

// fixture wires both lifecycles to an in-memory store, a fake clock and a
// mock gateway holding one customer, two taskers and one open task.
type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memstore.Store
	clock    *clock.Fake
	gw       *mocks.MockGateway
	bids     *BidServiceImpl
	payments *PaymentServiceImpl
	logs     *logger.TestLogBuffer

	customer uuid.UUID
	tasker   uuid.UUID
	tasker2  uuid.UUID
	taskID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, logs := logger.NewTestLogger()
	clk := clock.NewFake(testNow)
	st := memstore.New(clk)
	gw := mocks.NewMockGateway()

	bids, err := NewBidService(st, gw, clk, testBidConfig(), log)
	require.NoError(t, err)
	payments, err := NewPaymentService(st, gw, clk, testPaymentConfig(), log)
	require.NoError(t, err)

	customer := gw.AddUser(domain.RoleCustomer)
	return &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    st,
		clock:    clk,
		gw:       gw,
		bids:     bids,
		payments: payments,
		logs:     logs,
		customer: customer,
		tasker:   gw.AddUser(domain.RoleTasker),
		tasker2:  gw.AddUser(domain.RoleTasker),
		taskID:   gw.AddTask(customer),
	}
}

func customerCaller(id uuid.UUID) domain.Caller {
	return domain.Caller{UserID: id, Role: domain.RoleCustomer}
}

func taskerCaller(id uuid.UUID) domain.Caller {
	return domain.Caller{UserID: id, Role: domain.RoleTasker}
}

func adminCaller() domain.Caller {
	return domain.Caller{UserID: uuid.New(), Role: domain.RoleAdmin}
}

func (f *fixture) placeBid(tasker uuid.UUID, amount string) *domain.Bid {
	f.t.Helper()
	bid, err := f.bids.CreateBid(f.ctx, taskerCaller(tasker), CreateBidInput{
		TaskID: f.taskID,
		Amount: dec(amount),
	})
	require.NoError(f.t, err)
	return bid
}

// acceptedPayment places and accepts a bid and creates its task payment.
func (f *fixture) acceptedPayment(amount string) (*domain.Bid, *domain.Payment) {
	f.t.Helper()
	bid := f.placeBid(f.tasker, amount)
	bid, err := f.bids.AcceptBid(f.ctx, customerCaller(f.customer), bid.ID)
	require.NoError(f.t, err)
	payment, err := f.payments.CreatePayment(f.ctx, domain.SystemCaller(), taskPaymentInput(bid))
	require.NoError(f.t, err)
	return bid, payment
}

func taskPaymentInput(bid *domain.Bid) CreatePaymentInput {
	bidID, taskID, taskerID := bid.ID, bid.TaskID, bid.TaskerID
	return CreatePaymentInput{
		CustomerID: bid.CustomerID,
		TaskerID:   &taskerID,
		TaskID:     &taskID,
		BidID:      &bidID,
		Amount:     bid.Amount,
	}
}

func (f *fixture) getBid(id uuid.UUID) *domain.Bid {
	f.t.Helper()
	bid, err := f.store.Bids().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return bid
}

func (f *fixture) getPayment(id uuid.UUID) *domain.Payment {
	f.t.Helper()
	p, err := f.store.Payments().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

// outboxTypes returns the types of the undispatched events, oldest first.
func (f *fixture) outboxTypes() []string {
	f.t.Helper()
	evts, err := f.store.Outbox().ListUndispatched(f.ctx, 1000, 1000)
	require.NoError(f.t, err)
	types := make([]string, len(evts))
	for i, e := range evts {
		types[i] = e.Type
	}
	return types
}

// lastEvent returns the newest undispatched event of the given type.
func (f *fixture) lastEvent(eventType string) *events.Event {
	f.t.Helper()
	evts, err := f.store.Outbox().ListUndispatched(f.ctx, 1000, 1000)
	require.NoError(f.t, err)
	var last *events.Event
	for _, e := range evts {
		if e.Type == eventType {
			last = e
		}
	}
	require.NotNil(f.t, last, "no %s event in outbox", eventType)
	return last
}

type countingSignaler struct {
	n int
}

func (c *countingSignaler) Signal() { c.n++ }
