package dispatch

import "github.com/plue-git/plue/internal/model"

// DependencyPolicy controls when a dependency is considered resolved
// (SPEC_FULL.md §D.1 — spec.md left the default unspecified).
type DependencyPolicy string

const (
	// DependencySuccess requires the dependency to have completed
	// successfully (QueuedJob reached JobCompleted). This is the default.
	DependencySuccess DependencyPolicy = "success"

	// DependencyCompletedRegardless resolves a dependency once the
	// depended-on job reaches ANY terminal state, success or not.
	DependencyCompletedRegardless DependencyPolicy = "completed_regardless"
)

// dependenciesResolved reports whether every job key in deps has resolved,
// per policy, within the same run as job. A dependency job that hasn't
// been seen yet (not enqueued, or already purged) is treated as unresolved
// rather than erroring, so a run that enqueues jobs out of topological
// order still converges once the real dependency arrives.
func dependenciesResolved(byKey map[string]*model.QueuedJob, deps []string, policy DependencyPolicy) bool {
	for _, key := range deps {
		dep, ok := byKey[key]
		if !ok {
			return false
		}
		if !dependencyResolved(*dep, policy) {
			return false
		}
	}
	return true
}

func dependencyResolved(dep model.QueuedJob, policy DependencyPolicy) bool {
	switch policy {
	case DependencyCompletedRegardless:
		return dep.Status.Terminal()
	default:
		return dep.Status == model.JobCompleted
	}
}
