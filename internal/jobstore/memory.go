package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// MemoryStore implements Store using in-memory maps.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*types.Job
	results map[string]*types.SearchResult
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*types.Job),
		results: make(map[string]*types.SearchResult),
		now:     time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, requestID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Return a copy to prevent mutation
	return copyJob(s.jobs[requestID]), nil
}

func (s *MemoryStore) GetStatus(_ context.Context, requestID string) (*types.StatusSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[requestID]
	if !ok {
		return nil, nil
	}
	return &types.StatusSnapshot{Status: job.Status, UpdatedAt: job.UpdatedAt}, nil
}

func (s *MemoryStore) GetResult(_ context.Context, requestID string) (*types.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyResult(s.results[requestID]), nil
}

func (s *MemoryStore) SaveJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyJob(job)
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.jobs[c.RequestID] = c
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, requestID string, status types.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *types.SearchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RequestID] = copyResult(result)
	return nil
}
