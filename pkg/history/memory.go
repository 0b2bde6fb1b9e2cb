package history

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the in-memory ring when no capacity is given.
const DefaultMemoryCapacity = 4096

// MemoryStore keeps the most recent samples in a fixed-capacity ring.
// Appending beyond capacity evicts the oldest sample.
type MemoryStore struct {
	mu      sync.RWMutex
	samples []ClusterMetricsSample
	head    int
	size    int
	closed  bool
}

// NewMemoryStore creates a ring holding at most capacity samples.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{samples: make([]ClusterMetricsSample, capacity)}
}

func (s *MemoryStore) Append(_ context.Context, sample ClusterMetricsSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.samples[s.head] = sample
	s.head = (s.head + 1) % len(s.samples)
	if s.size < len(s.samples) {
		s.size++
	}
	return nil
}

func (s *MemoryStore) Range(_ context.Context, from, to time.Time) ([]ClusterMetricsSample, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	start := (s.head - s.size + len(s.samples)) % len(s.samples)
	var out []ClusterMetricsSample
	for i := 0; i < s.size; i++ {
		sample := s.samples[(start+i)%len(s.samples)]
		if sample.At.Before(from) || sample.At.After(to) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports how many samples the ring currently holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
