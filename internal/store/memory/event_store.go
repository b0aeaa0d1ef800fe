package memory

import (
	"context"
	"sync"

	"github.com/knowton/bondledger/internal/domain"
)

// EventStore is an in-memory append-only domain.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Append adds events to the log in order.
func (s *EventStore) Append(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// ListByBond returns the events of one bond in append order.
func (s *EventStore) ListByBond(_ context.Context, bondID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0)
	for _, ev := range s.events {
		if ev.BondID != bondID {
			continue
		}
		if opts.Since != nil && ev.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.At.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	return paginate(out, opts), nil
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
