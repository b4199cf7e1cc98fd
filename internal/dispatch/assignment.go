package dispatch

import "github.com/plue-git/plue/internal/model"

// AssignmentPolicy picks one runner id from a set of candidates already
// known to satisfy a job's requirements and have capacity (§4.4).
type AssignmentPolicy interface {
	Name() string
	Pick(candidates []model.Runner) *model.Runner
}

// PolicyLeastLoaded picks the runner with the lowest current_jobs /
// max_parallel_jobs ratio.
type PolicyLeastLoaded struct{}

func (PolicyLeastLoaded) Name() string { return "least_loaded" }

func (PolicyLeastLoaded) Pick(candidates []model.Runner) *model.Runner {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	bestLoad := load(best)
	for _, c := range candidates[1:] {
		if l := load(c); l < bestLoad {
			best, bestLoad = c, l
		}
	}
	return &best
}

func load(r model.Runner) float64 {
	if r.MaxParallel <= 0 {
		return 1
	}
	return float64(r.CurrentJobs) / float64(r.MaxParallel)
}

// PolicyRoundRobin cycles through candidates in the order they're
// presented, tracking a per-policy-instance cursor. Candidates are sorted
// by id first so the cursor means something stable across calls.
type PolicyRoundRobin struct {
	cursor int
}

func (p *PolicyRoundRobin) Name() string { return "round_robin" }

func (p *PolicyRoundRobin) Pick(candidates []model.Runner) *model.Runner {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]model.Runner(nil), candidates...)
	sortRunnersByID(sorted)
	idx := p.cursor % len(sorted)
	p.cursor++
	return &sorted[idx]
}

func sortRunnersByID(runners []model.Runner) {
	for i := 1; i < len(runners); i++ {
		j := i
		for j > 0 && runners[j-1].ID > runners[j].ID {
			runners[j-1], runners[j] = runners[j], runners[j-1]
			j--
		}
	}
}
