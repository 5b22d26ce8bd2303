// Package subtitles holds the bounded, expiring list of displayed entries.
package subtitles

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxEntries = 3
	DefaultTTL        = 20 * time.Second
	// SweepInterval is how often expired entries are removed.
	SweepInterval = time.Second
)

// Entry is one committed subtitle line.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Recognized string    `json:"recognized"`
	Translated string    `json:"translated"`
	Final      bool      `json:"final"`
}

// Store keeps entries in commit order. Mutations must come from a single
// owner goroutine; Snapshot may be called from anywhere and always returns a
// consistent copy.
type Store struct {
	maxEntries int
	ttl        time.Duration
	entries    []Entry
	snap       atomic.Pointer[[]Entry]
}

func NewStore(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{maxEntries: maxEntries, ttl: ttl}
	s.publish()
	return s
}

// NewEntry builds a final entry with a fresh id.
func NewEntry(recognized string, now time.Time) Entry {
	return Entry{
		ID:         uuid.New(),
		CreatedAt:  now,
		Recognized: recognized,
		Final:      true,
	}
}

// Append adds e and trims the oldest entries beyond the limit. It returns
// how many entries were trimmed.
func (s *Store) Append(e Entry) int {
	s.entries = append(s.entries, e)
	n := s.trimLocked()
	s.publish()
	return n
}

// UpdateTranslation sets the translation of the entry with id. It reports
// false, and changes nothing, when the entry is gone.
func (s *Store) UpdateTranslation(id uuid.UUID, text string) bool {
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		s.entries[i].Translated = text
		s.publish()
		return true
	}
	return false
}

// SweepExpired removes entries created before now minus the TTL.
func (s *Store) SweepExpired(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	kept := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	if removed == 0 {
		return 0
	}
	s.entries = kept
	s.publish()
	return removed
}

// SetLimits changes the bounds and applies the new maximum immediately.
func (s *Store) SetLimits(maxEntries int, ttl time.Duration) int {
	if maxEntries > 0 {
		s.maxEntries = maxEntries
	}
	if ttl > 0 {
		s.ttl = ttl
	}
	n := s.trimLocked()
	if n > 0 {
		s.publish()
	}
	return n
}

// TrimToMax drops the oldest entries beyond the limit.
func (s *Store) TrimToMax() int {
	n := s.trimLocked()
	if n > 0 {
		s.publish()
	}
	return n
}

func (s *Store) Get(id uuid.UUID) (Entry, bool) {
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Recent returns the recognized text of the last n entries, oldest first.
func (s *Store) Recent(n int) []string {
	if n <= 0 || len(s.entries) == 0 {
		return nil
	}
	start := len(s.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		out = append(out, e.Recognized)
	}
	return out
}

func (s *Store) Clear() {
	s.entries = nil
	s.publish()
}

func (s *Store) Len() int           { return len(s.entries) }
func (s *Store) MaxEntries() int    { return s.maxEntries }
func (s *Store) TTL() time.Duration { return s.ttl }

// Snapshot returns a copy of the entries as of the last mutation.
func (s *Store) Snapshot() []Entry {
	p := s.snap.Load()
	if p == nil {
		return nil
	}
	out := make([]Entry, len(*p))
	copy(out, *p)
	return out
}

func (s *Store) trimLocked() int {
	over := len(s.entries) - s.maxEntries
	if over <= 0 {
		return 0
	}
	s.entries = append(s.entries[:0], s.entries[over:]...)
	return over
}

func (s *Store) publish() {
	cp := make([]Entry, len(s.entries))
	copy(cp, s.entries)
	s.snap.Store(&cp)
}
