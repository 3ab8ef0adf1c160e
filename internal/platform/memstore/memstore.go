package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/store"
)

type bidRecord struct {
	bid *domain.Bid
	seq int64
}

type paymentRecord struct {
	payment *domain.Payment
	seq     int64
}

type outboxRecord struct {
	event        *events.Event
	dispatchedAt *time.Time
	lastError    string
	seq          int64
}

type data struct {
	bids     map[uuid.UUID]*bidRecord
	payments map[uuid.UUID]*paymentRecord
	outbox   map[uuid.UUID]*outboxRecord
	seq      int64
}

func newData() *data {
	return &data{
		bids:     make(map[uuid.UUID]*bidRecord),
		payments: make(map[uuid.UUID]*paymentRecord),
		outbox:   make(map[uuid.UUID]*outboxRecord),
	}
}

func (d *data) nextSeq() int64 {
	d.seq++
	return d.seq
}

func (d *data) clone() *data {
	c := &data{
		bids:     make(map[uuid.UUID]*bidRecord, len(d.bids)),
		payments: make(map[uuid.UUID]*paymentRecord, len(d.payments)),
		outbox:   make(map[uuid.UUID]*outboxRecord, len(d.outbox)),
		seq:      d.seq,
	}
	for id, r := range d.bids {
		c.bids[id] = &bidRecord{bid: r.bid.Clone(), seq: r.seq}
	}
	for id, r := range d.payments {
		c.payments[id] = &paymentRecord{payment: r.payment.Clone(), seq: r.seq}
	}
	for id, r := range d.outbox {
		e := *r.event
		rec := &outboxRecord{event: &e, lastError: r.lastError, seq: r.seq}
		if r.dispatchedAt != nil {
			at := *r.dispatchedAt
			rec.dispatchedAt = &at
		}
		c.outbox[id] = rec
	}
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.Mutex
	data  *data
	clock clock.Clock
}

// New creates an empty Store. Timestamps written by Create and Update come from clk.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{data: newData(), clock: clk}
}

var _ store.Store = (*Store)(nil)

// view is a store.Store bound either to the committed data (tx == nil)
// or to a transaction's private copy.
type view struct {
	root *Store
	tx   *data
}

func (v *view) do(fn func(d *data) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.root.mu.Lock()
	defer v.root.mu.Unlock()
	return fn(v.root.data)
}

func (v *view) now() time.Time { return v.root.clock.Now() }

// Bids implements store.Store.
func (s *Store) Bids() store.BidStore { return &bidStore{view{root: s}} }

// Payments implements store.Store.
func (s *Store) Payments() store.PaymentStore { return &paymentStore{view{root: s}} }

// Outbox implements store.Store.
func (s *Store) Outbox() store.OutboxStore { return &outboxStore{view{root: s}} }

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn store.TxStoreFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, &txStore{view{root: s, tx: snapshot}}); err != nil {
		return err
	}
	s.data = snapshot
	return nil
}

// txStore is the store.Store handed to RunInTx callbacks.
type txStore struct {
	view
}

func (t *txStore) Bids() store.BidStore         { return &bidStore{t.view} }
func (t *txStore) Payments() store.PaymentStore { return &paymentStore{t.view} }
func (t *txStore) Outbox() store.OutboxStore    { return &outboxStore{t.view} }

func (t *txStore) RunInTx(ctx context.Context, fn store.TxStoreFn) error {
	return fn(ctx, t)
}

func sortBids(recs []*bidRecord) []*domain.Bid {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].bid.CreatedAt.Equal(recs[j].bid.CreatedAt) {
			return recs[i].bid.CreatedAt.Before(recs[j].bid.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]*domain.Bid, len(recs))
	for i, r := range recs {
		out[i] = r.bid.Clone()
	}
	return out
}

func sortPayments(recs []*paymentRecord, key func(*domain.Payment) time.Time, desc bool) []*domain.Payment {
	sort.Slice(recs, func(i, j int) bool {
		ki, kj := key(recs[i].payment), key(recs[j].payment)
		if !ki.Equal(kj) {
			if desc {
				return ki.After(kj)
			}
			return ki.Before(kj)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]*domain.Payment, len(recs))
	for i, r := range recs {
		out[i] = r.payment.Clone()
	}
	return out
}

func limitBids(bids []*domain.Bid, limit int) []*domain.Bid {
	if limit > 0 && len(bids) > limit {
		return bids[:limit]
	}
	return bids
}

func limitPayments(payments []*domain.Payment, limit int) []*domain.Payment {
	if limit > 0 && len(payments) > limit {
		return payments[:limit]
	}
	return payments
}
