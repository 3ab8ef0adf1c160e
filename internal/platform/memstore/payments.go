package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/store"
)

type paymentStore struct {
	view
}

func hasOtherActive(d *data, p *domain.Payment) bool {
	if !p.BlocksNewTaskPayment() {
		return false
	}
	for _, r := range d.payments {
		other := r.payment
		if other.ID != p.ID && other.BidID != nil && *other.BidID == *p.BidID && other.BlocksNewTaskPayment() {
			return true
		}
	}
	return false
}

func (s *paymentStore) Create(_ context.Context, p *domain.Payment) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	return s.do(func(d *data) error {
		if _, ok := d.payments[p.ID]; ok {
			return fmt.Errorf("%w: payment %s", store.ErrDuplicate, p.ID)
		}
		if hasOtherActive(d, p) {
			return store.ErrActivePaymentExists
		}

		now := s.now()
		p.CreatedAt = now
		p.UpdatedAt = now
		p.Version = 1
		d.payments[p.ID] = &paymentRecord{payment: p.Clone(), seq: d.nextSeq()}
		return nil
	})
}

func (s *paymentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	var out *domain.Payment
	err := s.do(func(d *data) error {
		r, ok := d.payments[id]
		if !ok {
			return store.ErrPaymentNotFound
		}
		out = r.payment.Clone()
		return nil
	})
	return out, err
}

func (s *paymentStore) Update(_ context.Context, p *domain.Payment) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	return s.do(func(d *data) error {
		r, ok := d.payments[p.ID]
		if !ok {
			return store.ErrPaymentNotFound
		}
		if r.payment.Version != p.Version {
			return fmt.Errorf("%w: payment %s at version %d, stored %d",
				store.ErrVersionConflict, p.ID, p.Version, r.payment.Version)
		}
		if hasOtherActive(d, p) {
			return store.ErrActivePaymentExists
		}

		// Amounts, parties and fee are fixed at creation.
		stored := r.payment
		p.CustomerID, p.TaskerID, p.TaskID, p.BidID, p.RefundOfID = stored.CustomerID, stored.TaskerID, stored.TaskID, stored.BidID, stored.RefundOfID
		p.Amount, p.FeePercentage, p.ServiceFee, p.NetAmount = stored.Amount, stored.FeePercentage, stored.ServiceFee, stored.NetAmount
		p.Currency, p.Method, p.Type = stored.Currency, stored.Method, stored.Type
		p.CreatedAt = stored.CreatedAt

		p.Version++
		p.UpdatedAt = s.now()
		r.payment = p.Clone()
		return nil
	})
}

func (s *paymentStore) ExistsActiveForBid(_ context.Context, bidID uuid.UUID) (bool, error) {
	var exists bool
	err := s.do(func(d *data) error {
		for _, r := range d.payments {
			if r.payment.BidID != nil && *r.payment.BidID == bidID && r.payment.BlocksNewTaskPayment() {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (s *paymentStore) selectPayments(
	pred func(*domain.Payment) bool,
	key func(*domain.Payment) time.Time,
	desc bool,
) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := s.do(func(d *data) error {
		var recs []*paymentRecord
		for _, r := range d.payments {
			if pred(r.payment) {
				recs = append(recs, r)
			}
		}
		out = sortPayments(recs, key, desc)
		return nil
	})
	return out, err
}

func byCreated(p *domain.Payment) time.Time { return p.CreatedAt }
func byUpdated(p *domain.Payment) time.Time { return p.UpdatedAt }

func byFailed(p *domain.Payment) time.Time {
	if p.FailedAt == nil {
		return time.Time{}
	}
	return *p.FailedAt
}

func (s *paymentStore) ListByBid(_ context.Context, bidID uuid.UUID) ([]*domain.Payment, error) {
	return s.selectPayments(func(p *domain.Payment) bool {
		return p.BidID != nil && *p.BidID == bidID
	}, byCreated, false)
}

func (s *paymentStore) GetByExternalTransactionID(_ context.Context, externalID string) (*domain.Payment, error) {
	found, err := s.selectPayments(func(p *domain.Payment) bool {
		return p.ExternalTransactionID != nil && *p.ExternalTransactionID == externalID
	}, byCreated, false)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, store.ErrPaymentNotFound
	}
	return found[0], nil
}

func statusIn(status domain.PaymentStatus, statuses []domain.PaymentStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *paymentStore) ListByCustomer(_ context.Context, customerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error) {
	return s.selectPayments(func(p *domain.Payment) bool {
		return p.CustomerID == customerID && statusIn(p.Status, statuses)
	}, byCreated, true)
}

func (s *paymentStore) ListByTasker(_ context.Context, taskerID uuid.UUID, statuses []domain.PaymentStatus) ([]*domain.Payment, error) {
	return s.selectPayments(func(p *domain.Payment) bool {
		return p.TaskerID != nil && *p.TaskerID == taskerID && statusIn(p.Status, statuses)
	}, byCreated, true)
}

func (s *paymentStore) FindByStatusCreatedBefore(
	_ context.Context,
	status domain.PaymentStatus,
	before time.Time,
	limit int,
) ([]*domain.Payment, error) {
	found, err := s.selectPayments(func(p *domain.Payment) bool {
		return p.Status == status && p.CreatedAt.Before(before)
	}, byCreated, false)
	return limitPayments(found, limit), err
}

func (s *paymentStore) FindByStatusUpdatedBefore(
	_ context.Context,
	status domain.PaymentStatus,
	before time.Time,
	limit int,
) ([]*domain.Payment, error) {
	found, err := s.selectPayments(func(p *domain.Payment) bool {
		return p.Status == status && p.UpdatedAt.Before(before)
	}, byUpdated, false)
	return limitPayments(found, limit), err
}

func (s *paymentStore) FindRetryable(_ context.Context, failedBefore time.Time, limit int) ([]*domain.Payment, error) {
	found, err := s.selectPayments(func(p *domain.Payment) bool {
		return p.CanRetry() && p.FailedAt != nil && p.FailedAt.Before(failedBefore)
	}, byFailed, false)
	return limitPayments(found, limit), err
}

func (s *paymentStore) DeletePurgeableUpdatedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.do(func(d *data) error {
		for id, r := range d.payments {
			if r.payment.IsPurgeable() && r.payment.UpdatedAt.Before(before) {
				delete(d.payments, id)
				n++
			}
		}
		// Mirror ON DELETE SET NULL for refund links.
		for _, r := range d.payments {
			if r.payment.RefundOfID != nil {
				if _, ok := d.payments[*r.payment.RefundOfID]; !ok {
					r.payment.RefundOfID = nil
				}
			}
		}
		return nil
	})
	return n, err
}
