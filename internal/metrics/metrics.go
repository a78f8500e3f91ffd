// Package metrics declares the Prometheus instrumentation for the lock
// coordinator: acquisitions, blocking, releases, evictions, and queue
// depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquireTotal counts EnqueueOrAcquire outcomes by whether the caller
	// acquired immediately or joined the wait queue.
	AcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_acquire_total",
		Help: "Total number of EnqueueOrAcquire calls, by outcome.",
	}, []string{"outcome"}) // "immediate" | "queued"

	// AcquireBlockedTotal counts how many /lock requests entered WaitForTurn.
	AcquireBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockd_acquire_blocked_total",
		Help: "Total number of requests that blocked in WaitForTurn.",
	})

	// WaitDuration observes how long WaitForTurn took to return, regardless
	// of outcome.
	WaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockd_wait_duration_seconds",
		Help:    "Time spent blocked in WaitForTurn.",
		Buckets: prometheus.DefBuckets,
	})

	// ReleaseTotal counts TryRelease outcomes.
	ReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_release_total",
		Help: "Total number of TryRelease calls, by outcome.",
	}, []string{"outcome"}) // "ok" | "not_holder" | "absent"

	// ReleaseAllTotal observes the count released by each ReleaseAll call.
	ReleaseAllTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockd_release_all_total",
		Help: "Total number of keys released across all ReleaseAll calls.",
	})

	// TTLEvictionsTotal counts head evictions, by the path that triggered them.
	TTLEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_ttl_evictions_total",
		Help: "Total number of TTL-expired holders evicted, by trigger.",
	}, []string{"source"}) // "acquire" | "sweeper"

	// QueueLength tracks the current length of each key's queue.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lockd_queue_length",
		Help: "Current number of sessions (holder + waiters) queued on a key.",
	}, []string{"file"})

	// QueuesActive tracks the number of non-empty queues.
	QueuesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockd_queues_active",
		Help: "Current number of keys with at least one queued session.",
	})
)

// ObserveQueueLength updates the per-key queue length gauge, removing the
// series entirely once a key's queue is empty so cardinality does not grow
// without bound over the lifetime of the process.
func ObserveQueueLength(file string, length int) {
	if length <= 0 {
		QueueLength.DeleteLabelValues(file)
		return
	}
	QueueLength.WithLabelValues(file).Set(float64(length))
}
