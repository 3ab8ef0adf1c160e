package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/store"
)

type bidStore struct {
	view
}

func (s *bidStore) Create(_ context.Context, bid *domain.Bid) error {
	if err := bid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	return s.do(func(d *data) error {
		if _, ok := d.bids[bid.ID]; ok {
			return fmt.Errorf("%w: bid %s", store.ErrDuplicate, bid.ID)
		}
		for _, r := range d.bids {
			if r.bid.TaskID == bid.TaskID && r.bid.TaskerID == bid.TaskerID {
				return store.ErrBidExists
			}
		}
		if bid.Status == domain.BidStatusAccepted && hasOtherAccepted(d, bid) {
			return store.ErrAcceptedBidExists
		}

		now := s.now()
		bid.CreatedAt = now
		bid.UpdatedAt = now
		bid.Version = 1
		d.bids[bid.ID] = &bidRecord{bid: bid.Clone(), seq: d.nextSeq()}
		return nil
	})
}

func hasOtherAccepted(d *data, bid *domain.Bid) bool {
	for _, r := range d.bids {
		if r.bid.ID != bid.ID && r.bid.TaskID == bid.TaskID && r.bid.Status == domain.BidStatusAccepted {
			return true
		}
	}
	return false
}

func (s *bidStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Bid, error) {
	var out *domain.Bid
	err := s.do(func(d *data) error {
		r, ok := d.bids[id]
		if !ok {
			return store.ErrBidNotFound
		}
		out = r.bid.Clone()
		return nil
	})
	return out, err
}

func (s *bidStore) Update(_ context.Context, bid *domain.Bid) error {
	if err := bid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	return s.do(func(d *data) error {
		r, ok := d.bids[bid.ID]
		if !ok {
			return store.ErrBidNotFound
		}
		if r.bid.Version != bid.Version {
			return fmt.Errorf("%w: bid %s at version %d, stored %d",
				store.ErrVersionConflict, bid.ID, bid.Version, r.bid.Version)
		}
		if bid.Status == domain.BidStatusAccepted && hasOtherAccepted(d, bid) {
			return store.ErrAcceptedBidExists
		}

		bid.Version++
		bid.UpdatedAt = s.now()
		// Identity and creation fields are immutable.
		bid.TaskID, bid.TaskerID, bid.CustomerID = r.bid.TaskID, r.bid.TaskerID, r.bid.CustomerID
		bid.CreatedAt = r.bid.CreatedAt
		r.bid = bid.Clone()
		return nil
	})
}

func (s *bidStore) ExistsForTaskAndTasker(_ context.Context, taskID, taskerID uuid.UUID) (bool, error) {
	var exists bool
	err := s.do(func(d *data) error {
		for _, r := range d.bids {
			if r.bid.TaskID == taskID && r.bid.TaskerID == taskerID {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (s *bidStore) selectBids(pred func(*domain.Bid) bool) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := s.do(func(d *data) error {
		var recs []*bidRecord
		for _, r := range d.bids {
			if pred(r.bid) {
				recs = append(recs, r)
			}
		}
		out = sortBids(recs)
		return nil
	})
	return out, err
}

// LockTask needs no extra locking: transactions are already serialized.
func (s *bidStore) LockTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Bid, error) {
	return s.ListByTask(ctx, taskID)
}

func (s *bidStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]*domain.Bid, error) {
	return s.selectBids(func(b *domain.Bid) bool { return b.TaskID == taskID })
}

func (s *bidStore) FindPendingCreatedBefore(_ context.Context, before time.Time, limit int) ([]*domain.Bid, error) {
	bids, err := s.selectBids(func(b *domain.Bid) bool {
		return b.Status == domain.BidStatusPending && b.CreatedAt.Before(before)
	})
	return limitBids(bids, limit), err
}

func (s *bidStore) DeleteTerminalUpdatedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.do(func(d *data) error {
		for id, r := range d.bids {
			if isPurgeableBid(r.bid.Status) && r.bid.UpdatedAt.Before(before) {
				delete(d.bids, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func isPurgeableBid(s domain.BidStatus) bool {
	for _, p := range domain.PurgeableBidStatuses {
		if s == p {
			return true
		}
	}
	return false
}
