package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/shopspring/decimal"
)

// RejectReasonOtherAccepted is recorded on bids rejected because a sibling was accepted.
const RejectReasonOtherAccepted = "another bid was accepted"

// CreateBidInput holds the parameters of CreateBid.
type CreateBidInput struct {
	TaskID uuid.UUID
	// TaskerID defaults to the caller.
	TaskerID       uuid.UUID
	Amount         decimal.Decimal
	Message        string
	EstimatedHours *int
}

// BidService defines the bid lifecycle.
type BidService interface {
	// CreateBid places a pending bid on an open task.
	CreateBid(ctx context.Context, caller domain.Caller, input CreateBidInput) (*domain.Bid, error)

	// GetBid returns a bid visible to the caller.
	GetBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error)

	// ListTaskBids returns the task's bids the caller may see, oldest first.
	ListTaskBids(ctx context.Context, caller domain.Caller, taskID uuid.UUID) ([]*domain.Bid, error)

	// UpdateBid changes the amount and optionally the message of a pending bid.
	UpdateBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, amount decimal.Decimal, message *string) (*domain.Bid, error)

	// AcceptBid accepts a pending bid and rejects its pending siblings atomically.
	AcceptBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error)

	// RejectBid rejects a pending bid.
	RejectBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error)

	// WithdrawBid withdraws a pending or accepted bid.
	WithdrawBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error)

	// CompleteBid marks an accepted bid's work as done.
	CompleteBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error)

	// CancelBid cancels an accepted bid.
	CancelBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error)

	// ProcessAutoAcceptance accepts, per task, the winning bid among pending
	// bids older than the configured age.
	ProcessAutoAcceptance(ctx context.Context) (SweepResult, error)

	// CleanupOldBids deletes rejected, withdrawn and cancelled bids past retention.
	CleanupOldBids(ctx context.Context) (SweepResult, error)
}

// BidServiceImpl implements BidService.
type BidServiceImpl struct {
	lifecycle
	gateway gateway.ExternalGateway
	config  BidConfig
}

// NewBidService creates a BidService.
// It returns an error if any of the required dependencies are nil.
func NewBidService(
	st store.Store,
	gw gateway.ExternalGateway,
	clk clock.Clock,
	cfg BidConfig,
	log *slog.Logger,
) (*BidServiceImpl, error) {
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
		return nil, fmt.Errorf("invalid bid config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &BidServiceImpl{
		lifecycle: lifecycle{
			store:  st,
			clock:  clk,
			logger: log.With(slog.String("component", "bid_service")),
		},
		gateway: gw,
		config:  cfg,
	}, nil
}

var _ BidService = (*BidServiceImpl)(nil)

func bidError(op, msg string, err error) error {
	return NewServiceError("bid", op, msg, err)
}

func (s *BidServiceImpl) checkAmount(amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if amount.LessThan(s.config.MinAmount) || amount.GreaterThan(s.config.MaxAmount) {
		return fmt.Errorf("%w: %s is outside [%s, %s]", ErrInvalidAmount, amount, s.config.MinAmount, s.config.MaxAmount)
	}
	return nil
}

// CreateBid implements BidService.
func (s *BidServiceImpl) CreateBid(ctx context.Context, caller domain.Caller, input CreateBidInput) (*domain.Bid, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if input.TaskerID == uuid.Nil {
		input.TaskerID = caller.UserID
	}
	if caller.Role != domain.RoleTasker && !caller.IsPrivileged() {
		return nil, fmt.Errorf("%w: only taskers can bid", ErrUnauthorized)
	}
	if !caller.ActsFor(input.TaskerID) {
		return nil, ErrNotOwner
	}
	if err := s.checkAmount(input.Amount); err != nil {
		return nil, err
	}

	exists, err := s.store.Bids().ExistsForTaskAndTasker(ctx, input.TaskID, input.TaskerID)
	if err != nil {
		return nil, bidError("create_bid", "failed to check for existing bid", err)
	}
	if exists {
		return nil, ErrDuplicateBid
	}

	task, err := s.gateway.GetTaskInfo(ctx, input.TaskID)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %s not found", ErrInvalidTask, input.TaskID)
	}
	if err != nil {
		return nil, bidError("create_bid", "failed to fetch task", err)
	}
	if !task.Status.AcceptsBids() {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidTask, task.Status)
	}
	if task.CustomerID == input.TaskerID {
		return nil, invalidOp("cannot bid on own task")
	}

	isTasker, err := s.gateway.ValidateUserRole(ctx, input.TaskerID, domain.RoleTasker)
	if err != nil {
		return nil, bidError("create_bid", "failed to validate tasker", err)
	}
	if !isTasker {
		return nil, fmt.Errorf("%w: user %s is not a tasker", ErrInvalidParty, input.TaskerID)
	}

	bid, err := domain.NewBid(input.TaskID, input.TaskerID, task.CustomerID, input.Amount, input.Message, input.EstimatedHours)
	if err != nil {
		return nil, bidError("create_bid", "invalid bid", err)
	}

	err = s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		if err := tx.Bids().Create(ctx, bid); err != nil {
			return nil, err
		}
		evt, err := events.NewBidEvent(events.BidCreated, bid, "", s.clock.Now())
		if err != nil {
			return nil, err
		}
		return []*events.Event{evt}, nil
	})
	if err != nil {
		return nil, bidError("create_bid", "failed to save bid", err)
	}

	log.Info("bid created",
		slog.String("bid_id", bid.ID.String()),
		slog.String("task_id", bid.TaskID.String()),
		slog.String("tasker_id", bid.TaskerID.String()),
		slog.String("amount", bid.Amount.String()))
	return bid, nil
}

func canView(caller domain.Caller, bid *domain.Bid) bool {
	return caller.ActsFor(bid.CustomerID) || caller.ActsFor(bid.TaskerID)
}

// GetBid implements BidService.
func (s *BidServiceImpl) GetBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error) {
	bid, err := s.store.Bids().GetByID(ctx, bidID)
	if err != nil {
		return nil, bidError("get_bid", "failed to retrieve bid", err)
	}
	if !canView(caller, bid) {
		return nil, ErrNotOwner
	}
	return bid, nil
}

// ListTaskBids implements BidService.
func (s *BidServiceImpl) ListTaskBids(ctx context.Context, caller domain.Caller, taskID uuid.UUID) ([]*domain.Bid, error) {
	bids, err := s.store.Bids().ListByTask(ctx, taskID)
	if err != nil {
		return nil, bidError("list_task_bids", "failed to list bids", err)
	}
	visible := bids[:0]
	for _, b := range bids {
		if canView(caller, b) {
			visible = append(visible, b)
		}
	}
	return visible, nil
}

// UpdateBid implements BidService.
func (s *BidServiceImpl) UpdateBid(
	ctx context.Context,
	caller domain.Caller,
	bidID uuid.UUID,
	amount decimal.Decimal,
	message *string,
) (*domain.Bid, error) {
	if err := s.checkAmount(amount); err != nil {
		return nil, err
	}

	var bid *domain.Bid
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		var err error
		bid, err = tx.Bids().GetByID(ctx, bidID)
		if err != nil {
			return nil, err
		}
		if !caller.ActsFor(bid.TaskerID) {
			return nil, ErrNotOwner
		}
		if err := bid.Revise(amount, message); err != nil {
			return nil, err
		}
		return nil, tx.Bids().Update(ctx, bid)
	})
	if err != nil {
		return nil, bidError("update_bid", "failed to update bid", err)
	}
	return bid, nil
}

// AcceptBid implements BidService.
func (s *BidServiceImpl) AcceptBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var accepted *domain.Bid
	var rejected int
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		bid, err := tx.Bids().GetByID(ctx, bidID)
		if err != nil {
			return nil, err
		}
		if !caller.ActsFor(bid.CustomerID) {
			return nil, ErrNotOwner
		}

		// Serialize with every other transition on the task's bids.
		siblings, err := tx.Bids().LockTask(ctx, bid.TaskID)
		if err != nil {
			return nil, err
		}

		var pending []*domain.Bid
		for _, b := range siblings {
			switch {
			case b.ID == bidID:
				bid = b
			case b.Status == domain.BidStatusAccepted:
				return nil, invalidOp("task %s already has accepted bid %s", b.TaskID, b.ID)
			case b.Status == domain.BidStatusPending:
				pending = append(pending, b)
			}
		}

		now := s.clock.Now()
		if err := bid.Accept(now); err != nil {
			return nil, err
		}
		if err := tx.Bids().Update(ctx, bid); err != nil {
			return nil, err
		}
		evt, err := events.NewBidEvent(events.BidAccepted, bid, domain.BidStatusPending, now)
		if err != nil {
			return nil, err
		}
		evts := []*events.Event{evt}

		for _, sibling := range pending {
			if err := sibling.Reject(RejectReasonOtherAccepted, now); err != nil {
				return nil, err
			}
			if err := tx.Bids().Update(ctx, sibling); err != nil {
				return nil, err
			}
			evt, err := events.NewBidEvent(events.BidRejected, sibling, domain.BidStatusPending, now)
			if err != nil {
				return nil, err
			}
			evts = append(evts, evt)
		}

		accepted = bid
		rejected = len(pending)
		return evts, nil
	})
	if err != nil {
		return nil, bidError("accept_bid", "failed to accept bid", err)
	}

	log.Info("bid accepted",
		slog.String("bid_id", accepted.ID.String()),
		slog.String("task_id", accepted.TaskID.String()),
		slog.Int("siblings_rejected", rejected))
	return accepted, nil
}

// transition applies a single-bid transition: load, authorize, apply,
// persist and record the event, in one transaction.
func (s *BidServiceImpl) transition(
	ctx context.Context,
	op string,
	bidID uuid.UUID,
	eventType string,
	authorize func(bid *domain.Bid) error,
	apply func(bid *domain.Bid, now time.Time) error,
) (*domain.Bid, error) {
	var bid *domain.Bid
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) ([]*events.Event, error) {
		var err error
		bid, err = tx.Bids().GetByID(ctx, bidID)
		if err != nil {
			return nil, err
		}
		if err := authorize(bid); err != nil {
			return nil, err
		}

		previous := bid.Status
		now := s.clock.Now()
		if err := apply(bid, now); err != nil {
			return nil, err
		}
		if err := tx.Bids().Update(ctx, bid); err != nil {
			return nil, err
		}
		evt, err := events.NewBidEvent(eventType, bid, previous, now)
		if err != nil {
			return nil, err
		}
		return []*events.Event{evt}, nil
	})
	if err != nil {
		return nil, bidError(op, "bid transition failed", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("bid transitioned",
		slog.String("bid_id", bid.ID.String()),
		slog.String("event", eventType),
		slog.String("status", string(bid.Status)))
	return bid, nil
}

func ownedBy(caller domain.Caller, party func(*domain.Bid) uuid.UUID) func(*domain.Bid) error {
	return func(bid *domain.Bid) error {
		if !caller.ActsFor(party(bid)) {
			return ErrNotOwner
		}
		return nil
	}
}

func bidCustomer(b *domain.Bid) uuid.UUID { return b.CustomerID }
func bidTasker(b *domain.Bid) uuid.UUID   { return b.TaskerID }

// RejectBid implements BidService.
func (s *BidServiceImpl) RejectBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error) {
	return s.transition(ctx, "reject_bid", bidID, events.BidRejected,
		ownedBy(caller, bidCustomer),
		func(bid *domain.Bid, now time.Time) error { return bid.Reject(reason, now) })
}

// WithdrawBid implements BidService.
func (s *BidServiceImpl) WithdrawBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error) {
	return s.transition(ctx, "withdraw_bid", bidID, events.BidWithdrawn,
		ownedBy(caller, bidTasker),
		func(bid *domain.Bid, now time.Time) error { return bid.Withdraw(reason, now) })
}

// CompleteBid implements BidService.
func (s *BidServiceImpl) CompleteBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID) (*domain.Bid, error) {
	return s.transition(ctx, "complete_bid", bidID, events.BidCompleted,
		ownedBy(caller, bidTasker),
		func(bid *domain.Bid, now time.Time) error { return bid.Complete(now) })
}

// CancelBid implements BidService.
func (s *BidServiceImpl) CancelBid(ctx context.Context, caller domain.Caller, bidID uuid.UUID, reason string) (*domain.Bid, error) {
	return s.transition(ctx, "cancel_bid", bidID, events.BidCancelled,
		func(bid *domain.Bid) error {
			if !caller.ActsFor(bid.CustomerID) && !caller.ActsFor(bid.TaskerID) {
				return ErrNotOwner
			}
			return nil
		},
		func(bid *domain.Bid, now time.Time) error { return bid.Cancel(reason, now) })
}
