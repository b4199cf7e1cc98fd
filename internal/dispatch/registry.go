package dispatch

import "github.com/plue-git/plue/internal/model"

// runnerRegistry indexes runners by id and by label, for fast candidate
// lookup when matching a job's requirements (§4.4).
type runnerRegistry struct {
	byID      map[string]*model.Runner
	byLabel   map[string]map[string]bool // label -> set of runner ids
}

func newRunnerRegistry() *runnerRegistry {
	return &runnerRegistry{
		byID:    map[string]*model.Runner{},
		byLabel: map[string]map[string]bool{},
	}
}

func (r *runnerRegistry) upsert(runner model.Runner) {
	if existing, ok := r.byID[runner.ID]; ok {
		r.unindexLabels(*existing)
	}
	cp := runner
	r.byID[runner.ID] = &cp
	r.indexLabels(cp)
}

func (r *runnerRegistry) indexLabels(runner model.Runner) {
	for _, label := range runner.Labels {
		set, ok := r.byLabel[label]
		if !ok {
			set = map[string]bool{}
			r.byLabel[label] = set
		}
		set[runner.ID] = true
	}
}

func (r *runnerRegistry) unindexLabels(runner model.Runner) {
	for _, label := range runner.Labels {
		if set, ok := r.byLabel[label]; ok {
			delete(set, runner.ID)
		}
	}
}

func (r *runnerRegistry) get(id string) (*model.Runner, bool) {
	runner, ok := r.byID[id]
	return runner, ok
}

func (r *runnerRegistry) remove(id string) {
	if existing, ok := r.byID[id]; ok {
		r.unindexLabels(*existing)
		delete(r.byID, id)
	}
}

// candidatesFor returns runner ids offering every label the job requires.
// A job with zero label requirements matches every runner (including one
// that itself has zero labels); the early return below handles this before
// the intersection loop is reached.
func (r *runnerRegistry) candidatesFor(req model.Requirements) []string {
	if len(req.Labels) == 0 {
		ids := make([]string, 0, len(r.byID))
		for id := range r.byID {
			ids = append(ids, id)
		}
		return ids
	}
	var result map[string]bool
	for _, label := range req.Labels {
		set := r.byLabel[label]
		if len(set) == 0 {
			return nil
		}
		if result == nil {
			result = make(map[string]bool, len(set))
			for id := range set {
				result[id] = true
			}
			continue
		}
		for id := range result {
			if !set[id] {
				delete(result, id)
			}
		}
	}
	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	return ids
}

func (r *runnerRegistry) all() []model.Runner {
	out := make([]model.Runner, 0, len(r.byID))
	for _, runner := range r.byID {
		out = append(out, *runner)
	}
	return out
}
