// Package dispatch implements the job dispatcher of §4.4: a priority queue
// plus dependency tracker plus runner registry plus a runner-pulled
// assignment loop, with retry/requeue on failure or runner loss. All queue
// and registry mutations go through a single critical section per
// instance, making poll linearizable, following the single-owner-state
// shape of boskos/ranch.go generalized from one resource list to four
// priority tiers plus a dependency stage modeled on boskos/mason.go.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// Store is the dispatcher's persistence seam. Writes happen inside the
// dispatcher's critical section (§4.4: "persisted before the response is
// sent"); Store implementations must not themselves need external locking
// for single calls.
type Store interface {
	InsertJob(ctx context.Context, job model.QueuedJob) error
	UpdateJob(ctx context.Context, job model.QueuedJob) error
	ListNonTerminalJobs(ctx context.Context) ([]model.QueuedJob, error)
	NextRunNumber(ctx context.Context, repositoryID, workflowID int64) (int64, error)
}

// Config configures one Dispatcher instance.
type Config struct {
	DependencyPolicy       DependencyPolicy
	Assignment             AssignmentPolicy
	HeartbeatTimeout       time.Duration
	MaxHeartbeatMisses     int
	RetentionAge           time.Duration
	MetricsRegisterer      prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.DependencyPolicy == "" {
		c.DependencyPolicy = DependencySuccess
	}
	if c.Assignment == nil {
		c.Assignment = PolicyLeastLoaded{}
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.MaxHeartbeatMisses <= 0 {
		c.MaxHeartbeatMisses = 3
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = 7 * 24 * time.Hour
	}
	return c
}

// Dispatcher is the single owner of all queue and registry state. Every
// public method takes the same mutex; persistence writes happen while it
// is held, so poll is linearizable (§4.4, §5).
type Dispatcher struct {
	mu sync.Mutex

	queues      *queueSet
	registry    *runnerRegistry
	jobs        map[string]*model.QueuedJob
	runKeyIndex map[int64]map[string]string // runID -> jobKey -> jobID

	store Store
	cfg   Config
	mx    *metrics
	log   *logrus.Entry

	runNumbers map[runKey]int64 // fallback in-memory sequence if Store is nil

	stopSweep context.CancelFunc
	wg        sync.WaitGroup
}

type runKey struct {
	repositoryID int64
	workflowID   int64
}

// New constructs a Dispatcher. store may be nil for a purely in-memory
// instance (tests); NextRunNumber then falls back to an in-process counter.
func New(store Store, cfg Config, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		queues:      newQueueSet(),
		registry:    newRunnerRegistry(),
		jobs:        map[string]*model.QueuedJob{},
		runKeyIndex: map[int64]map[string]string{},
		store:       store,
		cfg:         cfg,
		mx:          newMetrics(cfg.MetricsRegisterer),
		log:         log,
		runNumbers:  map[runKey]int64{},
	}
}

// NextRunNumber assigns the next monotonically increasing run_number for
// (repositoryID, workflowID), atomically (§3 invariant).
func (d *Dispatcher) NextRunNumber(ctx context.Context, repositoryID, workflowID int64) (int64, error) {
	if d.store != nil {
		n, err := d.store.NextRunNumber(ctx, repositoryID, workflowID)
		if err != nil {
			return 0, plueerr.Backend("next_run_number", "%v", err)
		}
		return n, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := runKey{repositoryID, workflowID}
	d.runNumbers[key]++
	return d.runNumbers[key], nil
}

// Enqueue admits a new QueuedJob. QueuedJob carries no trigger kind, so
// Enqueue does no trigger-kind check, and internal/postreceive, which only
// creates push-triggered runs, does none either. A job
// is placed in `queued` immediately if it has no unresolved dependencies,
// otherwise held `pending` until dependenciesResolved becomes true.
func (d *Dispatcher) Enqueue(ctx context.Context, job model.QueuedJob) (model.QueuedJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if !validPriority(job.Priority) {
		return model.QueuedJob{}, plueerr.Validation("bad_priority", "unknown priority %q", job.Priority)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byKey := d.siblingsByKeyLocked(job.RunID)
	if dependenciesResolved(byKey, job.Dependencies, d.cfg.DependencyPolicy) {
		job.Status = model.JobQueued
	} else {
		job.Status = model.JobPending
	}

	if err := d.persistLocked(ctx, job); err != nil {
		return model.QueuedJob{}, err
	}
	d.indexLocked(job)
	if job.Status == model.JobQueued {
		d.queues.push(job.Priority, job.ID)
	}
	return job, nil
}

// Poll is called by a runner to request its next job. It is linearizable:
// scans sub-queues in priority order, the first job whose requirements are
// satisfied, dependencies resolved, and the runner is not at capacity is
// atomically moved queued -> in_progress and returned (§4.4).
func (d *Dispatcher) Poll(ctx context.Context, runnerID string, snapshot model.Runner) (*model.QueuedJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot.ID = runnerID
	snapshot.LastSeen = time.Now()
	d.registry.upsert(snapshot)
	runner := d.registry.byID[runnerID]

	if !runner.HasCapacity() {
		return nil, nil
	}

	for _, jobID := range d.queues.scanOrder() {
		job := d.jobs[jobID]
		if job == nil || job.Status != model.JobQueued {
			continue
		}
		if !runner.Satisfies(job.Requirements) {
			continue
		}
		byKey := d.siblingsByKeyLocked(job.RunID)
		if !dependenciesResolved(byKey, job.Dependencies, d.cfg.DependencyPolicy) {
			continue
		}

		job.Status = model.JobInProgress
		job.RunnerID = runnerID
		if err := d.persistLocked(ctx, *job); err != nil {
			job.Status = model.JobQueued
			job.RunnerID = ""
			return nil, err
		}
		d.queues.remove(jobPriorityOrDefault(job), jobID)
		runner.CurrentJobs++
		d.registry.upsert(*runner)
		d.mx.assignedTotal.Inc()

		result := *job
		return &result, nil
	}
	return nil, nil
}

// UpdateStatus transitions job to a new status. completed/cancelled leave
// it terminal; failed increments retry_count and enqueues a fresh
// QueuedJob unless the retry limit is reached (§4.4).
func (d *Dispatcher) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[jobID]
	if !ok {
		return plueerr.NotFound("job_not_found", "job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return plueerr.Conflict("already_terminal", "job %s already in terminal state %s", jobID, job.Status)
	}

	if job.RunnerID != "" {
		if runner, ok := d.registry.get(job.RunnerID); ok && runner.CurrentJobs > 0 {
			runner.CurrentJobs--
			d.registry.upsert(*runner)
		}
	}

	job.Status = status
	job.FailReason = reason
	if err := d.persistLocked(ctx, *job); err != nil {
		return err
	}
	d.reevaluateDependentsLocked(ctx, job.RunID)

	if status == model.JobFailed {
		return d.maybeRetryLocked(ctx, *job, reason)
	}
	return nil
}

// Cancel marks job cancelled immediately, removing it from its queue and
// releasing its runner slot. For an in_progress job it does not notify the
// assigned runner and does not wait for an acknowledgement or an abort
// timeout; neither does the runner-facing Handler that calls it.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[jobID]
	if !ok {
		return plueerr.NotFound("job_not_found", "job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return nil
	}

	d.queues.remove(jobPriorityOrDefault(job), jobID)
	if job.RunnerID != "" {
		if runner, ok := d.registry.get(job.RunnerID); ok && runner.CurrentJobs > 0 {
			runner.CurrentJobs--
			d.registry.upsert(*runner)
		}
	}
	job.Status = model.JobCancelled
	if err := d.persistLocked(ctx, *job); err != nil {
		return err
	}
	d.reevaluateDependentsLocked(ctx, job.RunID)
	return nil
}

// Heartbeat refreshes a runner's last-seen timestamp without polling for
// work, used by runners that are busy but still alive.
func (d *Dispatcher) Heartbeat(runnerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if runner, ok := d.registry.get(runnerID); ok {
		runner.LastSeen = time.Now()
		d.registry.upsert(*runner)
	}
}

// maybeRetryLocked creates a fresh QueuedJob with incremented retry_count
// if the limit has not been reached. Caller must hold d.mu.
func (d *Dispatcher) maybeRetryLocked(ctx context.Context, failed model.QueuedJob, reason string) error {
	if failed.RetryCount >= failed.MaxRetries {
		return nil
	}
	retry := failed
	retry.ID = uuid.NewString()
	retry.RetryCount = failed.RetryCount + 1
	retry.Status = model.JobPending
	retry.RunnerID = ""
	retry.FailReason = ""
	retry.EnqueuedAt = time.Now()

	byKey := d.siblingsByKeyLocked(retry.RunID)
	if dependenciesResolved(byKey, retry.Dependencies, d.cfg.DependencyPolicy) {
		retry.Status = model.JobQueued
	}
	if err := d.persistLocked(ctx, retry); err != nil {
		return err
	}
	d.indexLocked(retry)
	if retry.Status == model.JobQueued {
		d.queues.push(retry.Priority, retry.ID)
	}
	d.mx.retriedTotal.Inc()
	d.log.WithFields(logrus.Fields{"job": failed.ID, "retry": retry.ID, "reason": reason}).Info("requeued job after failure")
	return nil
}

// reevaluateDependentsLocked moves any `pending` sibling in the same run
// whose dependencies are now resolved into `queued`. Caller must hold d.mu.
func (d *Dispatcher) reevaluateDependentsLocked(ctx context.Context, runID int64) {
	byKey := d.siblingsByKeyLocked(runID)
	for _, job := range byKey {
		if job.Status != model.JobPending {
			continue
		}
		if dependenciesResolved(byKey, job.Dependencies, d.cfg.DependencyPolicy) {
			job.Status = model.JobQueued
			if err := d.persistLocked(ctx, *job); err != nil {
				d.log.WithError(err).WithField("job", job.ID).Error("failed to persist dependency-unblocked job")
				continue
			}
			d.queues.push(job.Priority, job.ID)
		}
	}
}

// siblingsByKeyLocked returns every known job in runID, keyed by job key,
// preferring the latest (highest retry_count) attempt for each key so
// dependency checks see the current attempt. Caller must hold d.mu.
func (d *Dispatcher) siblingsByKeyLocked(runID int64) map[string]*model.QueuedJob {
	out := map[string]*model.QueuedJob{}
	keyToID := d.runKeyIndex[runID]
	for key, id := range keyToID {
		if job, ok := d.jobs[id]; ok {
			out[key] = job
		}
	}
	return out
}

func (d *Dispatcher) indexLocked(job model.QueuedJob) {
	cp := job
	d.jobs[job.ID] = &cp
	byKey, ok := d.runKeyIndex[job.RunID]
	if !ok {
		byKey = map[string]string{}
		d.runKeyIndex[job.RunID] = byKey
	}
	byKey[job.JobKey] = job.ID
}

func (d *Dispatcher) persistLocked(ctx context.Context, job model.QueuedJob) error {
	d.jobs[job.ID] = &job
	if d.store == nil {
		return nil
	}
	if err := d.store.UpdateJob(ctx, job); err != nil {
		if err := d.store.InsertJob(ctx, job); err != nil {
			return plueerr.Backend("persist_job", "%v", err)
		}
	}
	return nil
}

func validPriority(p model.Priority) bool {
	for _, known := range model.PriorityOrder {
		if p == known {
			return true
		}
	}
	return false
}

func jobPriorityOrDefault(job *model.QueuedJob) model.Priority {
	if job == nil {
		return model.PriorityNormal
	}
	return job.Priority
}
