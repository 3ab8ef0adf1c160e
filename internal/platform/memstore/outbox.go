package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/store"
)

type outboxStore struct {
	view
}

func (s *outboxStore) Append(_ context.Context, evts ...*events.Event) error {
	return s.do(func(d *data) error {
		for _, e := range evts {
			copied := *e
			d.outbox[e.ID] = &outboxRecord{event: &copied, seq: d.nextSeq()}
		}
		return nil
	})
}

func (s *outboxStore) ListUndispatched(_ context.Context, maxAttempts, limit int) ([]*events.Event, error) {
	var out []*events.Event
	err := s.do(func(d *data) error {
		var recs []*outboxRecord
		for _, r := range d.outbox {
			if r.dispatchedAt == nil && r.event.Attempts < maxAttempts {
				recs = append(recs, r)
			}
		}
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].event.CreatedAt.Equal(recs[j].event.CreatedAt) {
				return recs[i].event.CreatedAt.Before(recs[j].event.CreatedAt)
			}
			return recs[i].seq < recs[j].seq
		})
		if limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}
		for _, r := range recs {
			e := *r.event
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

func (s *outboxStore) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.do(func(d *data) error {
		r, ok := d.outbox[id]
		if !ok {
			return store.ErrEventNotFound
		}
		r.dispatchedAt = &at
		r.lastError = ""
		return nil
	})
}

func (s *outboxStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return s.do(func(d *data) error {
		r, ok := d.outbox[id]
		if !ok {
			return store.ErrEventNotFound
		}
		r.event.Attempts++
		r.lastError = reason
		return nil
	})
}

func (s *outboxStore) DeleteDispatchedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.do(func(d *data) error {
		for id, r := range d.outbox {
			if r.dispatchedAt != nil && r.dispatchedAt.Before(before) {
				delete(d.outbox, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
