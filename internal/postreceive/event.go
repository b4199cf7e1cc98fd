// Package postreceive turns a push event into WorkflowRuns and QueuedJobs
// (spec §2 "Post-receive trigger"), the one producer the dispatcher's
// enqueue path (internal/dispatch) treats opaquely. It depends on
// internal/gitexec to list the commits and changed paths a push carries,
// and fans the resulting work out through cloud.google.com/go/pubsub so a
// dispatcher replica decoupled from the Git hook process picks it up,
// grounded on abcxyz-github-metrics-aggregator's
// webhook-receives-then-publishes-to-pubsub shape.
package postreceive

import "time"

// Commit is the minimal per-commit record the post-receive trigger reads
// off a push, via internal/gitexec (spec §2's "depends on the Git executor
// to list commits and changed paths").
type Commit struct {
	SHA         string    `json:"sha"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	Message     string    `json:"message"`
	AuthoredAt  time.Time `json:"authored_at"`
}

// RefUpdate is one ref's before/after state within a single push. A push
// can update several refs at once (e.g. a `git push --all`); RefUpdates on
// a PushEvent are processed strictly in the order the pre-receive/post-
// receive hook reported them, so fan-out preserves per-ref commit order
// (spec §8 testable property).
type RefUpdate struct {
	Ref          string   `json:"ref"`
	BeforeSHA    string   `json:"before_sha"`
	AfterSHA     string   `json:"after_sha"`
	Commits      []Commit `json:"commits"`
	ChangedPaths []string `json:"changed_paths"`
}

// IsBranchDeletion reports whether this RefUpdate removed the ref rather
// than advancing it (AfterSHA is the all-zero Git null OID).
func (u RefUpdate) IsBranchDeletion() bool {
	return u.AfterSHA == "" || u.AfterSHA == nullOID
}

const nullOID = "0000000000000000000000000000000000000000"

// PushEvent is the (repository, ref, before_sha, after_sha, commits,
// changed_paths, actor) tuple spec §4.4 names as the post-receive
// trigger's contract with the dispatcher.
type PushEvent struct {
	RepositoryID int64       `json:"repository_id"`
	ActorID      int64       `json:"actor_id"`
	RefUpdates   []RefUpdate `json:"ref_updates"`
}
