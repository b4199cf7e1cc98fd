package postreceive

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/plue-git/plue/internal/model"
)

type fakeWorkflowLister struct {
	workflows map[int64][]model.Workflow
}

func (f *fakeWorkflowLister) WorkflowsForRepository(_ context.Context, repositoryID int64) ([]model.Workflow, error) {
	return f.workflows[repositoryID], nil
}

type fakeRunStore struct {
	mu      sync.Mutex
	nextID  int64
	inserts []model.WorkflowRun
}

func (f *fakeRunStore) InsertRun(_ context.Context, run model.WorkflowRun) (model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	run.ID = f.nextID
	f.inserts = append(f.inserts, run)
	return run, nil
}

type fakeRunNumberer struct {
	mu      sync.Mutex
	numbers map[int64]int64
}

func newFakeRunNumberer() *fakeRunNumberer { return &fakeRunNumberer{numbers: map[int64]int64{}} }

func (f *fakeRunNumberer) NextRunNumber(_ context.Context, repositoryID, workflowID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numbers[workflowID]++
	return f.numbers[workflowID], nil
}

func TestProcessPushPublishesMatchingWorkflowOnly(t *testing.T) {
	lister := &fakeWorkflowLister{workflows: map[int64][]model.Workflow{
		1: {
			{ID: 100, RepositoryID: 1, Triggers: map[model.TriggerKind]bool{model.TriggerPush: true}, Jobs: map[string]model.WorkflowJob{
				"build": {Key: "build"},
			}},
			{ID: 200, RepositoryID: 1, Triggers: map[model.TriggerKind]bool{model.TriggerPullRequest: true}},
		},
	}}
	runs := &fakeRunStore{}
	numbers := newFakeRunNumberer()
	pub := NewMemPublisher(4)
	p := NewProcessor(lister, runs, numbers, pub, nil)

	evt := PushEvent{RepositoryID: 1, ActorID: 9, RefUpdates: []RefUpdate{
		{Ref: "refs/heads/main", BeforeSHA: "a", AfterSHA: "b"},
	}}
	if err := p.ProcessPush(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runs.inserts) != 1 || runs.inserts[0].WorkflowID != 100 {
		t.Fatalf("expected exactly one run for workflow 100, got %+v", runs.inserts)
	}
	select {
	case msg := <-pub.Messages:
		if msg.WorkflowID != 100 || len(msg.Jobs) != 1 || msg.Jobs[0].JobKey != "build" {
			t.Fatalf("unexpected fan-out message: %+v", msg)
		}
	default:
		t.Fatalf("expected a published message")
	}
}

func TestProcessPushSkipsBranchDeletion(t *testing.T) {
	lister := &fakeWorkflowLister{workflows: map[int64][]model.Workflow{
		1: {{ID: 100, RepositoryID: 1, Triggers: map[model.TriggerKind]bool{model.TriggerPush: true}}},
	}}
	runs := &fakeRunStore{}
	numbers := newFakeRunNumberer()
	pub := NewMemPublisher(4)
	p := NewProcessor(lister, runs, numbers, pub, nil)

	evt := PushEvent{RepositoryID: 1, RefUpdates: []RefUpdate{
		{Ref: "refs/heads/doomed", BeforeSHA: "a", AfterSHA: ""},
	}}
	if err := p.ProcessPush(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs.inserts) != 0 {
		t.Fatalf("expected no runs for a branch deletion, got %+v", runs.inserts)
	}
}

func TestProcessPushPreservesRefOrder(t *testing.T) {
	lister := &fakeWorkflowLister{workflows: map[int64][]model.Workflow{
		1: {{ID: 100, RepositoryID: 1, Triggers: map[model.TriggerKind]bool{model.TriggerPush: true}}},
	}}
	runs := &fakeRunStore{}
	numbers := newFakeRunNumberer()
	pub := NewMemPublisher(4)
	p := NewProcessor(lister, runs, numbers, pub, nil)

	evt := PushEvent{RepositoryID: 1, RefUpdates: []RefUpdate{
		{Ref: "refs/heads/one", BeforeSHA: "a", AfterSHA: "b"},
		{Ref: "refs/heads/two", BeforeSHA: "c", AfterSHA: "d"},
	}}
	if err := p.ProcessPush(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs.inserts) != 2 || runs.inserts[0].Ref != "refs/heads/one" || runs.inserts[1].Ref != "refs/heads/two" {
		t.Fatalf("expected runs in ref order, got %+v", runs.inserts)
	}
	first := <-pub.Messages
	second := <-pub.Messages
	if first.RunID != runs.inserts[0].ID || second.RunID != runs.inserts[1].ID {
		t.Fatalf("expected publishes in ref order: first=%+v second=%+v", first, second)
	}
}

func TestConsumerEnqueuesEveryJobSpec(t *testing.T) {
	enqueued := &fakeEnqueuer{}
	c := NewConsumer(enqueued, nil)

	msg := FanoutMessage{RunID: 5, WorkflowID: 100, RepositoryID: 1, Jobs: []JobSpec{
		{JobKey: "build", Priority: model.PriorityNormal},
		{JobKey: "test", Priority: model.PriorityHigh, Dependencies: []string{"build"}},
	}}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.HandleMessage(context.Background(), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enqueued.jobs) != 2 {
		t.Fatalf("expected 2 jobs enqueued, got %d", len(enqueued.jobs))
	}
	if enqueued.jobs[1].Dependencies[0] != "build" {
		t.Fatalf("expected dependency to carry through, got %+v", enqueued.jobs[1])
	}
}

type fakeEnqueuer struct {
	jobs []model.QueuedJob
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job model.QueuedJob) (model.QueuedJob, error) {
	f.jobs = append(f.jobs, job)
	return job, nil
}
