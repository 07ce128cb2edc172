package attendance

import (
	"context"
	"sort"
	"sync"
)

// Store persists attendance records keyed by (session, student).
type Store interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, sessionID, studentID string) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	// List returns the session's records ordered by student id.
	List(ctx context.Context, sessionID string) ([]Record, error)
}

type recordKey struct {
	session, student string
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID, studentID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{sessionID, studentID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{rec.SessionID, rec.StudentID}] = rec
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for k, rec := range s.records {
		if k.session == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}
