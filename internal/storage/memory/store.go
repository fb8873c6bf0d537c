// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store with maps guarded by a mutex. It is not durable
// across process restarts.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]crawler.Checkpoint
	subRecords  map[string]crawler.SubRecord
	byEntity    map[string]int
	entities    map[string]crawler.ProcessedEntity

	// FailWrites, when set, is returned by every mutating call. Tests use it to
	// simulate a store outage.
	FailWrites error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		checkpoints: make(map[string]crawler.Checkpoint),
		subRecords:  make(map[string]crawler.SubRecord),
		byEntity:    make(map[string]int),
		entities:    make(map[string]crawler.ProcessedEntity),
	}
}

// Load returns a copy of the keyword's checkpoint or nil.
func (s *Store) Load(_ context.Context, keyword string) (*crawler.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[keyword]
	if !ok {
		return nil, nil
	}
	out := cp.Clone()
	return &out, nil
}

// Save replaces the checkpoint if the run IDs agree.
func (s *Store) Save(_ context.Context, cp *crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if existing, ok := s.checkpoints[cp.Keyword]; ok && existing.RunID != cp.RunID {
		return store.ErrCheckpointConflict
	}
	s.checkpoints[cp.Keyword] = cp.Clone()
	return nil
}

// Clear removes the keyword's checkpoint.
func (s *Store) Clear(_ context.Context, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	delete(s.checkpoints, keyword)
	return nil
}

// List returns all checkpoints ordered by keyword.
func (s *Store) List(_ context.Context) ([]crawler.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

// EntityProcessed reports whether the entity was marked or owns sub-records.
func (s *Store) EntityProcessed(_ context.Context, identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[identity]; ok {
		return true, nil
	}
	return s.byEntity[identity] > 0, nil
}

// InsertOrIgnore stores rec unless its identity is already present.
func (s *Store) InsertOrIgnore(_ context.Context, rec crawler.SubRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	return s.insertLocked(rec), nil
}

// RecordEntity inserts recs and the processed marker atomically.
func (s *Store) RecordEntity(
	_ context.Context,
	entity crawler.ProcessedEntity,
	recs []crawler.SubRecord,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}
	inserted := 0
	for _, rec := range recs {
		if s.insertLocked(rec) {
			inserted++
		}
	}
	if _, ok := s.entities[entity.Identity]; !ok {
		s.entities[entity.Identity] = entity
	}
	return inserted, nil
}

// CountSubRecords returns the number of stored sub-records.
func (s *Store) CountSubRecords(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subRecords), nil
}

// CountEntities returns the number of processed markers.
func (s *Store) CountEntities(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

// SubRecord returns a stored sub-record by identity.
func (s *Store) SubRecord(identity string) (crawler.SubRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subRecords[identity]
	return rec, ok
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) insertLocked(rec crawler.SubRecord) bool {
	if _, exists := s.subRecords[rec.Identity]; exists {
		return false
	}
	s.subRecords[rec.Identity] = rec
	s.byEntity[rec.OwningEntity]++
	return true
}
