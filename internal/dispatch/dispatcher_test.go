package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/plue-git/plue/internal/model"
)

func newTestDispatcher() *Dispatcher {
	return New(NewMemStore(), Config{}, nil)
}

func mustEnqueue(t *testing.T, d *Dispatcher, job model.QueuedJob) model.QueuedJob {
	t.Helper()
	got, err := d.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return got
}

func TestPollOrdersByPriority(t *testing.T) {
	d := newTestDispatcher()
	mustEnqueue(t, d, model.QueuedJob{RunID: 1, JobKey: "low", Priority: model.PriorityLow})
	mustEnqueue(t, d, model.QueuedJob{RunID: 1, JobKey: "normal", Priority: model.PriorityNormal})
	mustEnqueue(t, d, model.QueuedJob{RunID: 1, JobKey: "critical", Priority: model.PriorityCritical})

	runner := model.Runner{ID: "r1", MaxParallel: 3, Status: model.RunnerOnline}
	got, err := d.Poll(context.Background(), "r1", runner)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got2, _ := d.Poll(context.Background(), "r1", runner)

	var gotOrder []string
	if got != nil {
		gotOrder = append(gotOrder, got.JobKey)
	}
	if got2 != nil {
		gotOrder = append(gotOrder, got2.JobKey)
	}
	if diff := cmp.Diff([]string{"critical", "normal"}, gotOrder); diff != "" {
		t.Fatalf("poll order mismatch (-want +got):\n%s", diff)
	}
}

func TestDependencyBlocksUntilResolved(t *testing.T) {
	d := newTestDispatcher()
	build := mustEnqueue(t, d, model.QueuedJob{RunID: 5, JobKey: "build", Priority: model.PriorityNormal})
	mustEnqueue(t, d, model.QueuedJob{RunID: 5, JobKey: "deploy", Priority: model.PriorityNormal, Dependencies: []string{"build"}})

	runner := model.Runner{ID: "r1", MaxParallel: 2, Status: model.RunnerOnline}
	ctx := context.Background()

	got, err := d.Poll(ctx, "r1", runner)
	if err != nil || got == nil || got.ID != build.ID {
		t.Fatalf("expected build job, got %+v err %v", got, err)
	}

	if got2, _ := d.Poll(ctx, "r1", runner); got2 != nil {
		t.Fatalf("deploy job should still be blocked, got %+v", got2)
	}

	if err := d.UpdateStatus(ctx, build.ID, model.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got3, err := d.Poll(ctx, "r1", runner)
	if err != nil || got3 == nil || got3.JobKey != "deploy" {
		t.Fatalf("expected deploy job to unblock, got %+v err %v", got3, err)
	}
}

func TestFailedJobRetriesUntilLimit(t *testing.T) {
	d := newTestDispatcher()
	job := mustEnqueue(t, d, model.QueuedJob{RunID: 2, JobKey: "flaky", Priority: model.PriorityNormal, MaxRetries: 1})

	runner := model.Runner{ID: "r1", MaxParallel: 1, Status: model.RunnerOnline}
	ctx := context.Background()

	got, _ := d.Poll(ctx, "r1", runner)
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected original job")
	}
	if err := d.UpdateStatus(ctx, got.ID, model.JobFailed, "boom"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	retry, _ := d.Poll(ctx, "r1", runner)
	if retry == nil || retry.JobKey != "flaky" || retry.RetryCount != 1 {
		t.Fatalf("expected one retry, got %+v", retry)
	}
	if err := d.UpdateStatus(ctx, retry.ID, model.JobFailed, "boom again"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	noMore, _ := d.Poll(ctx, "r1", runner)
	if noMore != nil {
		t.Fatalf("expected no further retries past max_retries, got %+v", noMore)
	}
}

func TestCancelRemovesQueuedJob(t *testing.T) {
	d := newTestDispatcher()
	job := mustEnqueue(t, d, model.QueuedJob{RunID: 3, JobKey: "cancel-me", Priority: model.PriorityNormal})
	ctx := context.Background()

	if err := d.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	runner := model.Runner{ID: "r1", MaxParallel: 1, Status: model.RunnerOnline}
	got, _ := d.Poll(ctx, "r1", runner)
	if got != nil {
		t.Fatalf("cancelled job should not be assignable, got %+v", got)
	}
}

func TestZeroLabelRunnerOnlyMatchesZeroLabelJobs(t *testing.T) {
	d := newTestDispatcher()
	mustEnqueue(t, d, model.QueuedJob{RunID: 4, JobKey: "needs-gpu", Priority: model.PriorityNormal, Requirements: model.Requirements{Labels: []string{"gpu"}}})
	plain := mustEnqueue(t, d, model.QueuedJob{RunID: 4, JobKey: "plain", Priority: model.PriorityNormal})

	runner := model.Runner{ID: "bare", MaxParallel: 1, Status: model.RunnerOnline}
	got, err := d.Poll(context.Background(), "bare", runner)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got == nil || got.ID != plain.ID {
		t.Fatalf("expected labelless runner to match only labelless job, got %+v", got)
	}
}

func TestRunnerAtCapacityDeclinesPoll(t *testing.T) {
	d := newTestDispatcher()
	mustEnqueue(t, d, model.QueuedJob{RunID: 6, JobKey: "a", Priority: model.PriorityNormal})
	ctx := context.Background()

	full := model.Runner{ID: "full", MaxParallel: 1, CurrentJobs: 1, Status: model.RunnerOnline}
	got, err := d.Poll(ctx, "full", full)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got != nil {
		t.Fatalf("runner at capacity should not receive a job, got %+v", got)
	}
}

func TestRecoverRequeuesPersistedJobs(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	d1 := New(store, Config{}, nil)
	job := mustEnqueue(t, d1, model.QueuedJob{RunID: 7, JobKey: "persisted", Priority: model.PriorityHigh})

	d2 := New(store, Config{}, nil)
	if err := d2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	runner := model.Runner{ID: "r1", MaxParallel: 1, Status: model.RunnerOnline}
	got, err := d2.Poll(ctx, "r1", runner)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected recovered job to be pollable, got %+v", got)
	}
}

func TestSuggestRunnerPrefersLeastLoaded(t *testing.T) {
	d := New(NewMemStore(), Config{Assignment: PolicyLeastLoaded{}}, nil)
	job := mustEnqueue(t, d, model.QueuedJob{RunID: 9, JobKey: "pick-me", Priority: model.PriorityNormal})

	d.RegisterRunner(model.Runner{ID: "busy", MaxParallel: 4, CurrentJobs: 3, Status: model.RunnerOnline})
	d.RegisterRunner(model.Runner{ID: "idle", MaxParallel: 4, CurrentJobs: 0, Status: model.RunnerOnline})

	picked, ok := d.SuggestRunner(job.ID)
	if !ok {
		t.Fatalf("expected a suggested runner")
	}
	if picked.ID != "idle" {
		t.Fatalf("expected least-loaded runner 'idle', got %q", picked.ID)
	}
}

func TestHeartbeatLossFailsInProgressJob(t *testing.T) {
	d := New(NewMemStore(), Config{HeartbeatTimeout: time.Millisecond, MaxHeartbeatMisses: 1}, nil)
	ctx := context.Background()
	job := mustEnqueue(t, d, model.QueuedJob{RunID: 8, JobKey: "lossy", Priority: model.PriorityNormal, MaxRetries: 1})

	runner := model.Runner{ID: "ghost", MaxParallel: 1, Status: model.RunnerOnline}
	got, err := d.Poll(ctx, "ghost", runner)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("expected to claim job, got %+v err %v", got, err)
	}

	time.Sleep(5 * time.Millisecond)
	d.sweepLostRunners(ctx)

	retry, _ := d.Poll(ctx, "r2", model.Runner{ID: "r2", MaxParallel: 1, Status: model.RunnerOnline})
	if retry == nil || retry.JobKey != "lossy" || retry.RetryCount != 1 {
		t.Fatalf("expected retry job after runner loss, got %+v", retry)
	}
}
