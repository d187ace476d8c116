package rating

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps ratings in process. Used for single-node deployments and
// tests.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	defaultR int
}

// NewMemoryStore creates an empty store. defaultRating <= 0 uses DefaultRating.
func NewMemoryStore(defaultRating int) *MemoryStore {
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	return &MemoryStore{
		records:  make(map[string]*Record),
		defaultR: defaultRating,
	}
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// GetRating implements Store.
func (m *MemoryStore) GetRating(_ context.Context, name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(name).Rating, nil
}

// SetRating implements Store.
func (m *MemoryStore) SetRating(_ context.Context, name string, rating int, outcome Outcome) error {
	if name == "" {
		return ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreateLocked(name)
	rec.Rating = rating
	switch outcome {
	case Win:
		rec.GamesPlayed++
		rec.Wins++
	case Loss:
		rec.GamesPlayed++
		rec.Losses++
	}
	return nil
}

// Top implements Store. Ties are broken by name for a stable order.
func (m *MemoryStore) Top(_ context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	entries := make([]Entry, 0, len(m.records))
	for _, rec := range m.records {
		entries = append(entries, Entry{Name: rec.Name, Rating: rec.Rating})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rating != entries[j].Rating {
			return entries[i].Rating > entries[j].Rating
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Record returns a copy of the stored record for name.
func (m *MemoryStore) Record(name string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// getOrCreateLocked must be called with the write lock held.
func (m *MemoryStore) getOrCreateLocked(name string) *Record {
	rec, ok := m.records[name]
	if !ok {
		rec = &Record{Name: name, Rating: m.defaultR}
		m.records[name] = rec
	}
	return rec
}
