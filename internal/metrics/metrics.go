// Package metrics exposes Prometheus collectors for the capture pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	targetsTotal          *prometheus.CounterVec
	regionsCapturedTotal  *prometheus.CounterVec
	regionsDroppedTotal   *prometheus.CounterVec
	fallbackAttemptsTotal *prometheus.CounterVec
	uploadsTotal          *prometheus.CounterVec
	targetDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_targets_total",
				Help: "Targets processed, labeled by outcome and failure reason.",
			},
			[]string{"outcome", "reason"},
		)
		regionsCapturedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_regions_captured_total",
				Help: "Region captures kept for persistence, labeled by region.",
			},
			[]string{"region"},
		)
		regionsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_regions_dropped_total",
				Help: "Region captures dropped as near-duplicates.",
			},
			[]string{"region"},
		)
		fallbackAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_fallback_total",
				Help: "Fallback renderer invocations, labeled by result.",
			},
			[]string{"result"},
		)
		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_uploads_total",
				Help: "Object uploads, labeled by status.",
			},
			[]string{"status"},
		)
		targetDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shotpipe_target_duration_seconds",
				Help:    "End-to-end per-target processing time.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"outcome"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotpipe_http_requests_total",
				Help: "HTTP API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

// ObserveTarget records one finished target.
func ObserveTarget(outcome, reason string, d time.Duration) {
	if targetsTotal == nil {
		return
	}
	targetsTotal.WithLabelValues(outcome, reason).Inc()
	targetDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// RegionKept counts a region capture that survived duplicate filtering.
func RegionKept(region string) {
	if regionsCapturedTotal == nil {
		return
	}
	regionsCapturedTotal.WithLabelValues(region).Inc()
}

// RegionDropped counts a duplicate-filtered region.
func RegionDropped(region string) {
	if regionsDroppedTotal == nil {
		return
	}
	regionsDroppedTotal.WithLabelValues(region).Inc()
}

// FallbackResult records a fallback renderer invocation.
func FallbackResult(result string) {
	if fallbackAttemptsTotal == nil {
		return
	}
	fallbackAttemptsTotal.WithLabelValues(result).Inc()
}

// Upload records one object upload attempt.
func Upload(status string) {
	if uploadsTotal == nil {
		return
	}
	uploadsTotal.WithLabelValues(status).Inc()
}

// HTTPRequest records one API request.
func HTTPRequest(method, code string) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, code).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
