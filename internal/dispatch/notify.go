package dispatch

import (
	"time"

	"github.com/plue-git/plue/internal/model"
)

// RegisterRunner records a runner's presence and capabilities without
// attempting to hand it work, for the initial connect/heartbeat before its
// first Poll (§4.4 runner lifecycle: register, then poll in a loop).
func (d *Dispatcher) RegisterRunner(runner model.Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	runner.LastSeen = time.Now()
	d.registry.upsert(runner)
}

// SuggestRunner returns the runner the configured AssignmentPolicy would
// prefer for jobID right now, among currently known runners that satisfy
// its requirements and have spare capacity. Poll remains the authoritative
// assignment path (a runner only ever receives work it asks for); this is
// a hint a push-style notifier (e.g. a webhook that wakes an idle runner
// early) can use to avoid waking every runner on every enqueue.
func (d *Dispatcher) SuggestRunner(jobID string) (model.Runner, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[jobID]
	if !ok {
		return model.Runner{}, false
	}

	ids := d.registry.candidatesFor(job.Requirements)
	candidates := make([]model.Runner, 0, len(ids))
	for _, id := range ids {
		runner, ok := d.registry.get(id)
		if !ok || !runner.HasCapacity() || !runner.Satisfies(job.Requirements) {
			continue
		}
		candidates = append(candidates, *runner)
	}

	picked := d.cfg.Assignment.Pick(candidates)
	if picked == nil {
		return model.Runner{}, false
	}
	return *picked, true
}
