// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mam"

var (
	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotions_total",
		Help:      "Promote calls by result (created, existing, error).",
	}, []string{"result"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_jobs_total",
		Help:      "Preview jobs handled by result (ready, retry, dead_lettered, skipped).",
	}, []string{"result"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "preview_build_seconds",
		Help:      "Time from claim to verified upload.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "preview_jobs_active",
		Help:      "Jobs currently being built.",
	})

	Reclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_jobs_reclaimed_total",
		Help:      "Pending entries reclaimed from idle consumers.",
	})

	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_assets_total",
		Help:      "Stuck assets resumed by the reconciler, by the status they were found in.",
	}, []string{"status"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "preview_subscribers",
		Help:      "Open preview readiness subscriptions.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
