// Package metrics exposes Prometheus counters/gauges for the pool,
// socket, and stream layers — an external collaborator per spec §1
// ("logging... out of scope; only their contracts are defined"), but
// a real, exercised hook point rather than a no-op, grounded on
// caddy's own metrics.go (prometheus.NewGaugeVec/NewCounterVec style).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every metric this package registers.
const Namespace = "flowproxy"

var (
	// SocketsActive tracks live BufferedSocket instances by state.
	SocketsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "socket",
		Name:      "active",
		Help:      "Number of buffered sockets currently in each lifecycle state.",
	}, []string{"state"})

	// SlabChunksInUse tracks outstanding chunks per pool.Slab instance,
	// keyed by a caller-supplied pool name.
	SlabChunksInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "pool",
		Name:      "slab_chunks_in_use",
		Help:      "Outstanding slab chunks not yet returned to their pool.",
	}, []string{"pool"})

	// RubberBytesInUse tracks bytes currently allocated from a
	// pool.Rubber instance.
	RubberBytesInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "pool",
		Name:      "rubber_bytes_in_use",
		Help:      "Bytes currently held by outstanding rubber allocations.",
	}, []string{"pool"})

	// StreamBytesTotal counts bytes delivered through named stream
	// stages (filter/source/sink), labeled by stage.
	StreamBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Total bytes delivered through a stream stage.",
	}, []string{"stage"})

	// UpstreamRequestsTotal counts FastCGI/HTTP client requests by
	// upstream kind and outcome.
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total upstream requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ThreadOffloadQueueDepth tracks pending jobs in the CPU-bound
	// filter worker queue (spec §4.E).
	ThreadOffloadQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "offload",
		Name:      "queue_depth",
		Help:      "Pending jobs queued for the thread-offload worker pool.",
	})
)

// MustRegister registers every collector in this package with reg
// (typically prometheus.DefaultRegisterer, or a dedicated registry in
// tests).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SocketsActive,
		SlabChunksInUse,
		RubberBytesInUse,
		StreamBytesTotal,
		UpstreamRequestsTotal,
		ThreadOffloadQueueDepth,
	)
}
