package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brokerdash/x402pay/broker"
)

// MemoryStore provides an in-memory implementation of Store.
//
// Suitable for single-instance deployments and tests. Records are lost on
// restart; use SQLStore when they must survive one.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Save stores a copy of record, replacing any record with the same id
func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = clone(record)
	return nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(record), nil
}

// List returns copies of the records of kind, newest first
func (s *MemoryStore) List(ctx context.Context, kind broker.Kind) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		if kind == "" || record.Kind == kind {
			out = append(out, clone(record))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ApplyStatus merges job into the stored record
func (s *MemoryStore) ApplyStatus(ctx context.Context, id string, job broker.JobResponse) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	Merge(record, job, s.now())
	return clone(record), nil
}
