package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"media-pipeline/domain/job"
)

// MemoryStore keeps jobs in process memory; records do not survive a restart
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*job.Job)}
}

// Get implements job.Store
func (s *MemoryStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

// Save implements job.Store
func (s *MemoryStore) Save(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID] = j.Clone()
	return nil
}

// Delete implements job.Store
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

// List implements job.Store
func (s *MemoryStore) List(_ context.Context) ([]*job.Job, error) {
	return s.filter(func(*job.Job) bool { return true }), nil
}

// UpdatedBefore implements job.Store
func (s *MemoryStore) UpdatedBefore(_ context.Context, cutoff time.Time) ([]*job.Job, error) {
	return s.filter(func(j *job.Job) bool { return j.UpdatedAt.Before(cutoff) }), nil
}

func (s *MemoryStore) filter(keep func(*job.Job) bool) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements job.Store
var _ job.Store = (*MemoryStore)(nil)
