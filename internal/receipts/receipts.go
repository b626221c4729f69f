// Package receipts keeps the latest delivery receipt per subscription so
// operators can answer "did today's lesson go out" without reading the
// database. Receipts expire after a TTL.
package receipts

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("receipt not found")

type Receipt struct {
	SubscriptionID int64     `json:"subscription_id"`
	Sequence       int       `json:"sequence"`
	Topic          string    `json:"topic"`
	Transport      string    `json:"transport"`
	ReceiptID      string    `json:"receipt_id"`
	At             time.Time `json:"at"`
}

type Store interface {
	Put(ctx context.Context, r Receipt) error
	Get(ctx context.Context, subscriptionID int64) (Receipt, error)
}

// MemoryStore is a process-local Store used when no Redis is configured.
type MemoryStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[int64]Receipt
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, m: map[int64]Receipt{}}
}

func (s *MemoryStore) Put(_ context.Context, r Receipt) error {
	s.mu.Lock()
	s.m[r.SubscriptionID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[id]
	if !ok || (s.ttl > 0 && time.Since(r.At) > s.ttl) {
		delete(s.m, id)
		return Receipt{}, ErrNotFound
	}
	return r, nil
}
