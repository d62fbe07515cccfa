package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.RenderJob
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.RenderJob),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.RenderJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id string, update domain.StatusUpdate) (domain.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}

	job.Status = update.Status
	job.OutputKey = update.OutputKey
	job.Error = update.Error
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
