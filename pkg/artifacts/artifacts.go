// Package artifacts fetches persisted review texts from object storage.
// Fetching is best-effort: the review worker already sent the result text on
// the bus, the stored artifact is just the richer, formatted version.
package artifacts

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no artifact exists for the correlation id.
var ErrNotFound = errors.New("artifacts: review not found")

// Store fetches the final review text for a check.
type Store interface {
	FetchReview(ctx context.Context, correlationID string) (string, error)
}

// MemoryStore is an in-process Store for tests and examples.
type MemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reviews: make(map[string]string)}
}

// PutReview stores a review text.
func (s *MemoryStore) PutReview(correlationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[correlationID] = text
}

// FetchReview implements Store.
func (s *MemoryStore) FetchReview(_ context.Context, correlationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.reviews[correlationID]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}
