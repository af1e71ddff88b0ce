package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hasl-sensors/hasl/pkg/types"
)

// Record is an entity together with the time it was last published.
type Record struct {
	Entity    *types.Entity
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory entity store, keyed by unique_id.
// A background goroutine (Run) periodically evicts records that have not
// been updated within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Record
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Record),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the staleness threshold.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the entity under ent.UniqueID.
// Callers must not modify ent after calling Put.
func (s *Store) Put(ent *types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ent.UniqueID] = &Record{Entity: ent, UpdatedAt: s.now()}
}

// Get returns the record of a unique id. Stale records are reported as
// missing.
func (s *Store) Get(uniqueID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[uniqueID]
	if !ok || s.stale(r, s.now()) {
		return nil, false
	}
	return r, true
}

// List returns every live record sorted by unique id.
func (s *Store) List() []*Record {
	return s.filter(func(*Record) bool { return true })
}

// ListEntry returns the live records of one config entry.
func (s *Store) ListEntry(entryID string) []*Record {
	return s.filter(func(r *Record) bool { return r.Entity.EntryID == entryID })
}

func (s *Store) filter(keep func(*Record) bool) []*Record {
	s.mu.RLock()
	now := s.now()
	out := make([]*Record, 0, len(s.data))
	for _, r := range s.data {
		if !s.stale(r, now) && keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Entity.UniqueID < out[j].Entity.UniqueID })
	return out
}

func (s *Store) stale(r *Record, now time.Time) bool {
	return !r.UpdatedAt.After(now.Add(-s.ttl))
}

// Count returns the total number of records held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// DeleteEntry removes every record of a config entry and returns how many
// were removed.
func (s *Store) DeleteEntry(entryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.data {
		if r.Entity.EntryID == entryID {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Evict removes records whose UpdatedAt is older than now minus TTL.
// It returns the number of records removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.data {
		if s.stale(r, now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the TTL eviction loop, ticking at half the TTL (minimum one
// second). It blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale entities", "count", n)
			}
		}
	}
}
