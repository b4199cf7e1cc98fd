package postreceive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// Enqueuer is the dispatcher-side seam a Consumer hands jobs to;
// internal/dispatch.Dispatcher satisfies it directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.QueuedJob) (model.QueuedJob, error)
}

// Consumer is the dispatcher-side half of the fan-out: it decodes a
// FanoutMessage published by Processor and enqueues one QueuedJob per
// JobSpec. Kept as a separate component from Processor (rather than
// enqueuing directly in the Git hook process) so a dispatcher outage never
// blocks a push from completing.
type Consumer struct {
	enqueuer Enqueuer
	log      *logrus.Entry
}

func NewConsumer(enqueuer Enqueuer, log *logrus.Entry) *Consumer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{enqueuer: enqueuer, log: log}
}

// HandleMessage decodes and enqueues one published FanoutMessage. Intra-run
// job order carries no ordering requirement (the dispatcher's own
// dependency ladder governs that), so jobs are enqueued in the slice order
// Processor already produced deterministically.
func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	var msg FanoutMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return plueerr.Validation("fanout_unmarshal", "could not decode fan-out message: %v", err)
	}

	for _, spec := range msg.Jobs {
		job := model.QueuedJob{
			RunID:        msg.RunID,
			JobKey:       spec.JobKey,
			Priority:     spec.Priority,
			Requirements: spec.Requirements,
			Dependencies: spec.Dependencies,
			MaxRetries:   spec.MaxRetries,
			Timeout:      time.Duration(spec.TimeoutSecs) * time.Second,
		}
		if _, err := c.enqueuer.Enqueue(ctx, job); err != nil {
			return plueerr.Backend("enqueue_job", "enqueuing %s for run %d: %v", spec.JobKey, msg.RunID, err)
		}
	}
	c.log.WithFields(logrus.Fields{"run_id": msg.RunID, "jobs": len(msg.Jobs)}).Info("enqueued workflow run jobs")
	return nil
}

// Drain reads MemPublisher.Messages until ctx is cancelled, handing each to
// HandleMessage; the single-process wiring a composition root uses when no
// external pubsub subscriber is configured.
func (c *Consumer) Drain(ctx context.Context, source *MemPublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-source.Messages:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.WithError(err).Error("re-marshaling in-process fan-out message")
				continue
			}
			if err := c.HandleMessage(ctx, data); err != nil {
				c.log.WithError(err).Error("handling fan-out message")
			}
		}
	}
}
