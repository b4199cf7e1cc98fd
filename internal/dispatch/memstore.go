package dispatch

import (
	"context"
	"sync"

	"github.com/plue-git/plue/internal/model"
)

// MemStore is an in-memory Store, grounded on boskos/storage's in-memory
// backing store, used by dispatcher tests and by standalone deployments
// that don't need durability across restarts.
type MemStore struct {
	mu         sync.Mutex
	jobs       map[string]model.QueuedJob
	runNumbers map[runKey]int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:       map[string]model.QueuedJob{},
		runNumbers: map[runKey]int64{},
	}
}

func (s *MemStore) InsertJob(_ context.Context, job model.QueuedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemStore) UpdateJob(_ context.Context, job model.QueuedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return notFoundErr{}
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemStore) ListNonTerminalJobs(_ context.Context) ([]model.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueuedJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *MemStore) NextRunNumber(_ context.Context, repositoryID, workflowID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey{repositoryID, workflowID}
	s.runNumbers[key]++
	return s.runNumbers[key], nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "job not found" }
