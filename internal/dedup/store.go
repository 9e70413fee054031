package dedup

import (
	"context"
	"sync"
	"time"
)

// Store remembers live notification fingerprints.
type Store interface {
	// IsDuplicate reports whether a live (non-expired) record exists for fp.
	IsDuplicate(ctx context.Context, fp string) (bool, error)

	// MarkSent inserts or refreshes the record for fp, expiring after window.
	MarkSent(ctx context.Context, fp string, window time.Duration) error
}

// MemoryStore is the in-process Store. Expired records are removed lazily
// on lookup; no sweep goroutine is required. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time // fingerprint -> expires_at
	now     func() time.Time     // injectable for deterministic tests
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) IsDuplicate(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.records[fp]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expires) {
		delete(s.records, fp)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, fp string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[fp] = s.now().Add(window)
	return nil
}

// Len returns the number of records currently held, including expired ones
// that have not been touched since expiry.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes all expired records eagerly. Optional; lookups already
// expire lazily. Returns the number of records removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for fp, expires := range s.records {
		if !now.Before(expires) {
			delete(s.records, fp)
			removed++
		}
	}
	return removed
}
