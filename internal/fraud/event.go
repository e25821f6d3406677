package fraud

import (
	"context"
	"sync"
	"time"
)

// Event is one audit record of a risk evaluation.
type Event struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	Delta          int       `json:"delta"`
	Reason         string    `json:"reason"`
	ResultingScore int       `json:"resultingScore"`
	Tier           string    `json:"tier"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists the risk audit trail.
type Store interface {
	Record(ctx context.Context, e *Event) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Event, error)
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListByAccount returns the most recent events first.
func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].AccountID == accountID {
			cp := *s.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
