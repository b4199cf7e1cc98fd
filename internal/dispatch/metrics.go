package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plue-git/plue/internal/model"
)

// metrics holds the dispatcher's prometheus instruments, matching the
// teacher's go.mod pull of prometheus/client_golang for component metrics.
type metrics struct {
	queueDepth    *prometheus.GaugeVec
	oldestJobAge  *prometheus.GaugeVec
	assignedTotal prometheus.Counter
	retriedTotal  prometheus.Counter
	runnerUtil    *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plue",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Number of queued jobs per priority tier.",
		}, []string{"priority"}),
		oldestJobAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plue",
			Subsystem: "dispatch",
			Name:      "oldest_job_age_seconds",
			Help:      "Age in seconds of the oldest queued job per priority tier.",
		}, []string{"priority"}),
		assignedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plue",
			Subsystem: "dispatch",
			Name:      "jobs_assigned_total",
			Help:      "Total jobs handed out by poll.",
		}),
		retriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plue",
			Subsystem: "dispatch",
			Name:      "jobs_retried_total",
			Help:      "Total retry jobs created after failure or runner loss.",
		}),
		runnerUtil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plue",
			Subsystem: "dispatch",
			Name:      "runner_utilization",
			Help:      "current_jobs / max_parallel_jobs per runner.",
		}, []string{"runner_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.oldestJobAge, m.assignedTotal, m.retriedTotal, m.runnerUtil)
	}
	return m
}

// Snapshot is the metrics contract named in §4.4: queue depth per priority,
// oldest-job age, average wait time, and per-runner utilization.
type Snapshot struct {
	QueueDepth     map[model.Priority]int
	OldestJobAge   map[model.Priority]time.Duration
	AverageWait    time.Duration
	RunnerUtil     map[string]float64
}
