package dispatch

import (
	"context"
	"time"

	"github.com/plue-git/plue/internal/model"
)

// Recover loads every non-terminal job persisted by a previous process and
// re-indexes it, re-queuing anything left `queued`. An in_progress job is
// reset to `queued` with its runner cleared and re-queued as the same job
// (no failure is recorded and no retry is created), since from the new
// process's point of view no runner has claimed it yet. `pending` jobs are
// re-indexed only.
func (d *Dispatcher) Recover(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	jobs, err := d.store.ListNonTerminalJobs(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range jobs {
		d.indexLocked(job)
		switch job.Status {
		case model.JobQueued:
			d.queues.push(job.Priority, job.ID)
		case model.JobInProgress:
			d.log.WithField("job", job.ID).Warn("recovered in_progress job with no live runner; requeuing")
			job.RunnerID = ""
			job.Status = model.JobQueued
			if err := d.persistLocked(ctx, job); err != nil {
				return err
			}
			d.queues.push(job.Priority, job.ID)
		}
	}
	return nil
}

// Start launches the background heartbeat-loss and retention sweeps. Stop
// must be called to release the goroutine.
func (d *Dispatcher) Start(ctx context.Context, sweepInterval time.Duration) {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	d.stopSweep = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				d.sweepLostRunners(sweepCtx)
				d.sweepRetention(sweepCtx)
				d.publishMetrics()
			}
		}
	}()
}

// Stop cancels the background sweeps and waits for them to exit.
func (d *Dispatcher) Stop() {
	if d.stopSweep != nil {
		d.stopSweep()
	}
	d.wg.Wait()
}

// sweepLostRunners fails any in_progress job whose runner has missed
// cfg.MaxHeartbeatMisses consecutive heartbeat intervals, freeing it for
// retry (§4.4: "a runner that stops heartbeating is presumed lost after N
// missed intervals; its in-flight job is failed with reason runner_lost").
func (d *Dispatcher) sweepLostRunners(ctx context.Context) {
	deadline := d.cfg.HeartbeatTimeout * time.Duration(d.cfg.MaxHeartbeatMisses)

	d.mu.Lock()
	var lostJobIDs []string
	now := time.Now()
	for _, runner := range d.registry.all() {
		if now.Sub(runner.LastSeen) <= deadline {
			continue
		}
		for _, job := range d.jobs {
			if job.RunnerID == runner.ID && job.Status == model.JobInProgress {
				lostJobIDs = append(lostJobIDs, job.ID)
			}
		}
		runner.Status = model.RunnerOffline
		d.registry.upsert(runner)
	}
	d.mu.Unlock()

	for _, id := range lostJobIDs {
		if err := d.UpdateStatus(ctx, id, model.JobFailed, "runner_lost"); err != nil {
			d.log.WithError(err).WithField("job", id).Error("failed to fail job after runner loss")
		}
	}
}

// sweepRetention purges terminal jobs older than cfg.RetentionAge from
// in-memory indexes, per SPEC_FULL.md §C's dispatcher retention sweep. The
// durable record stays in Store; this only bounds the dispatcher's working
// set so long-lived processes don't accumulate every job ever run.
func (d *Dispatcher) sweepRetention(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.cfg.RetentionAge)
	for id, job := range d.jobs {
		if !job.Status.Terminal() || job.EnqueuedAt.After(cutoff) {
			continue
		}
		delete(d.jobs, id)
		if byKey, ok := d.runKeyIndex[job.RunID]; ok {
			delete(byKey, job.JobKey)
			if len(byKey) == 0 {
				delete(d.runKeyIndex, job.RunID)
			}
		}
	}
}

// publishMetrics recomputes the prometheus gauges from current state.
func (d *Dispatcher) publishMetrics() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, p := range model.PriorityOrder {
		depth := d.queues.depth(p)
		d.mx.queueDepth.WithLabelValues(string(p)).Set(float64(depth))

		var oldest time.Duration
		for _, id := range d.queues.tiers[p].ids() {
			if job, ok := d.jobs[id]; ok {
				if age := now.Sub(job.EnqueuedAt); age > oldest {
					oldest = age
				}
			}
		}
		d.mx.oldestJobAge.WithLabelValues(string(p)).Set(oldest.Seconds())
	}
	for _, runner := range d.registry.all() {
		d.mx.runnerUtil.WithLabelValues(runner.ID).Set(load(runner))
	}
}

// Snapshot reports the §4.4 metrics contract as typed values, for callers
// that want the numbers without scraping prometheus.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		QueueDepth:   map[model.Priority]int{},
		OldestJobAge: map[model.Priority]time.Duration{},
		RunnerUtil:   map[string]float64{},
	}
	var totalWait time.Duration
	var waitCount int
	for _, p := range model.PriorityOrder {
		snap.QueueDepth[p] = d.queues.depth(p)
		var oldest time.Duration
		for _, id := range d.queues.tiers[p].ids() {
			job, ok := d.jobs[id]
			if !ok {
				continue
			}
			age := now.Sub(job.EnqueuedAt)
			if age > oldest {
				oldest = age
			}
			totalWait += age
			waitCount++
		}
		snap.OldestJobAge[p] = oldest
	}
	if waitCount > 0 {
		snap.AverageWait = totalWait / time.Duration(waitCount)
	}
	for _, runner := range d.registry.all() {
		snap.RunnerUtil[runner.ID] = load(runner)
	}
	return snap
}
