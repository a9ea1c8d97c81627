// Package history keeps the bounded, newest-first build history mirrored from
// the gateway and reconciles stream pushes and poll refreshes into it.
package history

import (
	"sync"

	"github.com/splax/faasdeck/internal/domain"
)

// DefaultLimit bounds the history when no limit is configured.
const DefaultLimit = 50

// Store is a bounded newest-first sequence of build entries keyed by id.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	limit    int
	entries  []domain.BuildEntry
	selected string
	metrics  *Metrics
}

// Option customises a Store.
type Option func(*Store)

// WithMetrics records mutations on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New returns an empty store holding at most limit entries. A non-positive
// limit selects DefaultLimit.
func New(limit int, opts ...Option) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Store{limit: limit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit returns the configured bound.
func (s *Store) Limit() int {
	return s.limit
}

// Len returns the number of held entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns a copy of the entries, newest first.
func (s *Store) List() []domain.BuildEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BuildEntry(nil), s.entries...)
}

// Get returns the entry with id.
func (s *Store) Get(id string) (domain.BuildEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], true
	}
	return domain.BuildEntry{}, false
}

// Insert prepends entry and evicts from the tail past the limit.
func (s *Store) Insert(entry domain.BuildEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepend(entry)
	s.observe("insert")
}

// UpdateInPlace merges patch into the entry with id without moving it.
// It reports false when no such entry exists.
func (s *Store) UpdateInPlace(id string, patch domain.BuildPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.entries[i] = patch.Apply(s.entries[i])
	s.observe("update")
	return true
}

// Upsert replaces the entry sharing entry.ID in place, or prepends it when the
// id is new. An update that would move a finished entry back to pending or
// running is ignored and reported as false.
func (s *Store) Upsert(entry domain.BuildEntry) bool {
	if entry.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(entry.ID); i >= 0 {
		if s.entries[i].Terminal() && !entry.Terminal() {
			s.observe("stale")
			return false
		}
		s.entries[i] = entry
		s.observe("replace")
		return true
	}
	s.prepend(entry)
	s.observe("insert")
	return true
}

// ReplaceID swaps the entry oldID for entry, keeping its position and
// selection. When entry.ID is already held elsewhere the old entry is dropped
// and entry is upserted. It reports false when oldID is unknown.
func (s *Store) ReplaceID(oldID string, entry domain.BuildEntry) bool {
	if entry.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(oldID)
	if i < 0 {
		return false
	}
	if s.selected == oldID {
		s.selected = entry.ID
	}
	if j := s.indexOf(entry.ID); j >= 0 && j != i {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		if j > i {
			j--
		}
		if !(s.entries[j].Terminal() && !entry.Terminal()) {
			s.entries[j] = entry
		}
	} else {
		s.entries[i] = entry
	}
	s.observe("adopt")
	return true
}

// ReplaceAll swaps the whole sequence for entries, applying the bound.
func (s *Store) ReplaceAll(entries []domain.BuildEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	s.entries = append([]domain.BuildEntry(nil), entries...)
	s.resolveSelection()
	s.observe("replace_all")
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.selected = ""
	s.observe("clear")
}

// Select marks id as the selected entry. It reports false when id is unknown.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return false
	}
	s.selected = id
	return true
}

// Selected returns the current selection, re-resolved by id.
func (s *Store) Selected() (domain.BuildEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return domain.BuildEntry{}, false
	}
	if i := s.indexOf(s.selected); i >= 0 {
		return s.entries[i], true
	}
	return domain.BuildEntry{}, false
}

// ClearSelection drops the selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
}

func (s *Store) prepend(entry domain.BuildEntry) {
	next := make([]domain.BuildEntry, 0, min(len(s.entries)+1, s.limit))
	next = append(next, entry)
	for _, existing := range s.entries {
		if len(next) == s.limit {
			break
		}
		next = append(next, existing)
	}
	s.entries = next
	s.resolveSelection()
}

func (s *Store) resolveSelection() {
	if s.selected != "" && s.indexOf(s.selected) < 0 {
		s.selected = ""
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) observe(op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.mutations.WithLabelValues(op).Inc()
	s.metrics.size.Set(float64(len(s.entries)))
}
