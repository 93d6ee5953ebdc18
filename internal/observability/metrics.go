package observability

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	registerErr  error

	storageWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportspark_storage_writes_total",
		Help: "Atomic file writes performed by the storage layer.",
	}, []string{"file_kind", "result"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportspark_http_requests_total",
		Help: "HTTP requests served, by route and status.",
	}, []string{"method", "route", "status"})

	httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportspark_http_request_duration_seconds",
		Help:    "Latency distribution for HTTP requests.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	}, []string{"method", "route"})
)

// RegisterMetrics registers the collectors with registerer once per process.
// Collectors already present in the registry are not treated as an error.
func RegisterMetrics(registerer prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, collector := range []prometheus.Collector{storageWritesTotal, httpRequestsTotal, httpLatencySeconds} {
			if err := registerer.Register(collector); err != nil {
				var alreadyRegistered prometheus.AlreadyRegisteredError
				if errors.As(err, &alreadyRegistered) {
					continue
				}
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// StorageWrites exposes the counter for storage file writes.
func StorageWrites() *prometheus.CounterVec {
	return storageWritesTotal
}

// HTTPRequests exposes the counter for served HTTP requests.
func HTTPRequests() *prometheus.CounterVec {
	return httpRequestsTotal
}

// HTTPLatency exposes the histogram for HTTP request latency.
func HTTPLatency() *prometheus.HistogramVec {
	return httpLatencySeconds
}
