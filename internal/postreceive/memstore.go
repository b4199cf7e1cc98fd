package postreceive

import (
	"context"
	"sync"

	"github.com/plue-git/plue/internal/model"
)

// MemWorkflowLister is an in-memory WorkflowLister, mirroring
// perm.MemStore/dispatch.MemStore's shape, for composition roots with no
// database configured and for tests.
type MemWorkflowLister struct {
	mu        sync.Mutex
	workflows map[int64][]model.Workflow // repositoryID -> workflows
}

func NewMemWorkflowLister() *MemWorkflowLister {
	return &MemWorkflowLister{workflows: map[int64][]model.Workflow{}}
}

func (l *MemWorkflowLister) Put(repositoryID int64, wf model.Workflow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[repositoryID] = append(l.workflows[repositoryID], wf)
}

func (l *MemWorkflowLister) WorkflowsForRepository(_ context.Context, repositoryID int64) ([]model.Workflow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Workflow, len(l.workflows[repositoryID]))
	copy(out, l.workflows[repositoryID])
	return out, nil
}

// MemRunStore is an in-memory RunStore for composition roots with no
// database configured and for tests.
type MemRunStore struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]model.WorkflowRun
}

func NewMemRunStore() *MemRunStore {
	return &MemRunStore{runs: map[int64]model.WorkflowRun{}}
}

func (s *MemRunStore) InsertRun(_ context.Context, run model.WorkflowRun) (model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	run.ID = s.nextID
	s.runs[run.ID] = run
	return run, nil
}

func (s *MemRunStore) Get(runID int64) (model.WorkflowRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	return run, ok
}
