package postreceive

import "github.com/plue-git/plue/internal/model"

// JobSpec is one job within a FanoutMessage, the QueuedJob fields that
// don't yet depend on an assigned ID.
type JobSpec struct {
	JobKey       string             `json:"job_key"`
	Priority     model.Priority     `json:"priority"`
	Requirements model.Requirements `json:"requirements"`
	Dependencies []string           `json:"dependencies,omitempty"`
	MaxRetries   int                `json:"max_retries"`
	TimeoutSecs  int64              `json:"timeout_secs"`
}

// FanoutMessage is what Processor publishes to pubsub for one
// (workflow, ref update) pair: the already-assigned WorkflowRun plus the
// job specs a dispatcher-side Consumer turns into QueuedJobs. Creating the
// WorkflowRun (and its run_number) happens synchronously in Processor, not
// the Consumer, so run_number assignment stays on the hook's critical path
// and is observed in fan-out order (spec §8).
type FanoutMessage struct {
	RunID        int64     `json:"run_id"`
	WorkflowID   int64     `json:"workflow_id"`
	RepositoryID int64     `json:"repository_id"`
	Jobs         []JobSpec `json:"jobs"`
}
