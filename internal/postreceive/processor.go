package postreceive

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// WorkflowLister resolves the Workflows stored for a repository (external
// collaborator: spec §1 treats workflow YAML parsing as already done,
// handing back parsed trigger sets and job maps).
type WorkflowLister interface {
	WorkflowsForRepository(ctx context.Context, repositoryID int64) ([]model.Workflow, error)
}

// RunStore persists the WorkflowRun row Processor creates before
// publishing, assigning it a durable ID.
type RunStore interface {
	InsertRun(ctx context.Context, run model.WorkflowRun) (model.WorkflowRun, error)
}

// RunNumberer assigns the strictly increasing per-(repository, workflow)
// run_number (spec §3 invariant); internal/dispatch.Dispatcher satisfies
// this directly so the same atomic counter backs both the run row and
// anything the dispatcher later keys by run_number.
type RunNumberer interface {
	NextRunNumber(ctx context.Context, repositoryID, workflowID int64) (int64, error)
}

// Processor turns PushEvents into WorkflowRuns and publishes the resulting
// job specs for a dispatcher-side Consumer to enqueue.
type Processor struct {
	workflows  WorkflowLister
	runs       RunStore
	runNumbers RunNumberer
	publisher  Publisher
	log        *logrus.Entry
}

func NewProcessor(workflows WorkflowLister, runs RunStore, runNumbers RunNumberer, publisher Publisher, log *logrus.Entry) *Processor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{workflows: workflows, runs: runs, runNumbers: runNumbers, publisher: publisher, log: log}
}

// ProcessPush runs every RefUpdate in evt through to publication, strictly
// in order: a push updating multiple refs must not let a later ref's runs
// or jobs reach the dispatcher ahead of an earlier ref's (spec §8).
func (p *Processor) ProcessPush(ctx context.Context, evt PushEvent) error {
	for _, ref := range evt.RefUpdates {
		if ref.IsBranchDeletion() {
			p.log.WithField("ref", ref.Ref).Debug("skipping workflow trigger for branch deletion")
			continue
		}
		if err := p.processRef(ctx, evt, ref); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processRef(ctx context.Context, evt PushEvent, ref RefUpdate) error {
	workflows, err := p.workflows.WorkflowsForRepository(ctx, evt.RepositoryID)
	if err != nil {
		return plueerr.Backend("list_workflows", "%v", err)
	}

	matching := matchingWorkflows(workflows, model.TriggerPush)
	for _, workflow := range matching {
		run, err := p.createRun(ctx, evt, ref, workflow)
		if err != nil {
			return err
		}

		msg := FanoutMessage{
			RunID:        run.ID,
			WorkflowID:   workflow.ID,
			RepositoryID: evt.RepositoryID,
			Jobs:         jobSpecsFor(workflow),
		}
		if err := p.publisher.Publish(ctx, msg); err != nil {
			return plueerr.Backend("publish_fanout", "publishing run %d: %v", run.ID, err)
		}
		p.log.WithFields(logrus.Fields{
			"repository_id": evt.RepositoryID,
			"workflow_id":   workflow.ID,
			"run_id":        run.ID,
			"ref":           ref.Ref,
		}).Info("published workflow run")
	}
	return nil
}

func (p *Processor) createRun(ctx context.Context, evt PushEvent, ref RefUpdate, workflow model.Workflow) (model.WorkflowRun, error) {
	runNumber, err := p.runNumbers.NextRunNumber(ctx, evt.RepositoryID, workflow.ID)
	if err != nil {
		return model.WorkflowRun{}, plueerr.Backend("run_number", "%v", err)
	}
	run := model.WorkflowRun{
		WorkflowID:   workflow.ID,
		RepositoryID: evt.RepositoryID,
		RunNumber:    runNumber,
		Trigger:      model.TriggerPush,
		CommitSHA:    ref.AfterSHA,
		Ref:          ref.Ref,
		ActorID:      evt.ActorID,
		Status:       model.RunQueued,
		Conclusion:   model.ConclusionNone,
		CreatedAt:    time.Now(),
	}
	inserted, err := p.runs.InsertRun(ctx, run)
	if err != nil {
		return model.WorkflowRun{}, plueerr.Backend("insert_run", "%v", err)
	}
	return inserted, nil
}

// matchingWorkflows returns the workflows whose trigger set includes kind,
// ordered by id so fan-out is deterministic across runs of this process.
func matchingWorkflows(workflows []model.Workflow, kind model.TriggerKind) []model.Workflow {
	var out []model.Workflow
	for _, wf := range workflows {
		if wf.Triggers[kind] {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func jobSpecsFor(workflow model.Workflow) []JobSpec {
	specs := make([]JobSpec, 0, len(workflow.Jobs))
	for key, job := range workflow.Jobs {
		priority := job.Priority
		if priority == "" {
			priority = model.PriorityNormal
		}
		specs = append(specs, JobSpec{
			JobKey:   key,
			Priority: priority,
			Requirements: model.Requirements{
				Labels:       job.Labels,
				Architecture: job.Architecture,
				MinMemoryMB:  job.MinMemoryMB,
				Docker:       job.Docker,
			},
			Dependencies: job.Needs,
			MaxRetries:   job.MaxRetries,
			TimeoutSecs:  int64(job.Timeout / time.Second),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].JobKey < specs[j].JobKey })
	return specs
}
