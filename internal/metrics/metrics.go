// Package metrics exposes the Prometheus instrumentation surface shared by
// the cube store, the annotation engine, and the sync layer: cube counts by
// outcome, mining duration, and connected-peer gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics a CubeStore/SyncManager pair reports. Callers
// register it with their own *prometheus.Registry (or the default one) so
// that embedding applications are not forced onto a global registry.
type Registry struct {
	CubesAdded       prometheus.Counter
	CubesRejected    *prometheus.CounterVec
	CubesDisplayable prometheus.Counter
	MiningDuration   prometheus.Histogram
	ConnectedPeers   prometheus.Gauge
}

// NewRegistry constructs a Registry with the given namespace (e.g. "verity")
// and registers its collectors with reg.
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	r := &Registry{
		CubesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cubes_added_total",
			Help:      "Cubes successfully added to the store.",
		}),
		CubesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cubes_rejected_total",
			Help:      "Cubes rejected during add, labeled by error kind.",
		}, []string{"reason"}),
		CubesDisplayable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotation",
			Name:      "cubes_displayable_total",
			Help:      "Cubes that transitioned to displayable.",
		}),
		MiningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hashcash",
			Name:      "mining_duration_seconds",
			Help:      "Wall-clock time spent mining a cube to its difficulty target.",
			Buckets:   prometheus.DefBuckets,
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "connected_peers",
			Help:      "Peers currently in the READY state.",
		}),
	}
	reg.MustRegister(r.CubesAdded, r.CubesRejected, r.CubesDisplayable, r.MiningDuration, r.ConnectedPeers)
	return r
}

// NewNoOpRegistry returns a Registry backed by an isolated, throwaway
// registry — useful for library embedding and tests that don't care about
// metrics but still want real counters to increment without panicking on
// double-registration against a shared default registry.
func NewNoOpRegistry() *Registry {
	return NewRegistry(prometheus.NewRegistry(), "verity")
}
