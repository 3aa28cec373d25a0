package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parklens/parklens/internal/core"
)

// Entry is the latest known snapshot for one facility.
type Entry struct {
	FacilityID     string
	Payload        core.Snapshot
	FetchedAt      time.Time
	FailedAttempts int
}

// Stats summarizes the store contents at an instant.
type Stats struct {
	Entries        int `json:"entries"`
	Fresh          int `json:"fresh"`
	Stale          int `json:"stale"`
	Cold           int `json:"cold"`
	FailedAttempts int `json:"failedAttempts"`
}

// Store is an in-memory map of facility ID to its latest snapshot.
type Store struct {
	Policy Policy
	Clock  func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates a store with the given policy.
func New(policy Policy) *Store {
	return &Store{
		Policy:  policyWithDefaults(policy),
		entries: make(map[string]*Entry),
	}
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	key = strings.TrimSpace(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Put stores a snapshot as the latest value for key and resets its failure count.
// FetchedAt never moves backwards for a key.
func (s *Store) Put(key string, snap core.Snapshot) Entry {
	if s == nil {
		return Entry{}
	}
	key = strings.TrimSpace(key)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]*Entry)
	}

	fetchedAt := now
	if prev, ok := s.entries[key]; ok && prev.FetchedAt.After(now) {
		fetchedAt = prev.FetchedAt
	}

	entry := &Entry{
		FacilityID: key,
		Payload:    snap.Clamp(),
		FetchedAt:  fetchedAt,
	}
	s.entries[key] = entry
	return *entry
}

// IncrementFailure bumps the failure counter of an existing entry.
// Payload and FetchedAt are left alone. Missing keys return 0.
func (s *Store) IncrementFailure(key string) int {
	if s == nil {
		return 0
	}
	key = strings.TrimSpace(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0
	}
	entry.FailedAttempts++
	return entry.FailedAttempts
}

// Lookup returns the entry for key together with its freshness now.
func (s *Store) Lookup(key string) (*Entry, Freshness) {
	if s == nil {
		return nil, Cold
	}
	entry, ok := s.Get(key)
	if !ok {
		return nil, Cold
	}
	return &entry, s.Policy.Classify(&entry, s.now())
}

// Len returns the number of entries.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored facility IDs in sorted order.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Stats classifies every entry at the current instant.
func (s *Store) Stats() Stats {
	var stats Stats
	if s == nil {
		return stats
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		stats.Entries++
		stats.FailedAttempts += entry.FailedAttempts
		switch s.Policy.Classify(entry, now) {
		case Fresh:
			stats.Fresh++
		case Stale:
			stats.Stale++
		default:
			stats.Cold++
		}
	}
	return stats
}

func (s *Store) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
