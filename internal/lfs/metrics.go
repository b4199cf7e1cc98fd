package lfs

import "github.com/prometheus/client_golang/prometheus"

// storeMetrics mirrors the dispatcher's prometheus instrumentation
// approach (internal/dispatch/metrics.go) applied to object storage.
type storeMetrics struct {
	objectsStored prometheus.Counter
	bytesStored   prometheus.Counter
	vacuumFreed   prometheus.Counter
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{
		objectsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plue", Subsystem: "lfs", Name: "objects_stored_total",
			Help: "Total distinct objects newly written (excludes dedup hits).",
		}),
		bytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plue", Subsystem: "lfs", Name: "bytes_stored_total",
			Help: "Total bytes newly written to a backend (excludes dedup hits).",
		}),
		vacuumFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plue", Subsystem: "lfs", Name: "vacuum_objects_freed_total",
			Help: "Total zero-refcount objects removed by the vacuum sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.objectsStored, m.bytesStored, m.vacuumFreed)
	}
	return m
}
