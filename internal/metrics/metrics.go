// Package metrics provides Prometheus metrics for the ipastore daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipastore_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipastore_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipastore_upstream_requests_total",
			Help: "Total number of requests sent to the store and mirror endpoints",
		},
		[]string{"host", "status"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipastore_upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipastore_logins_total",
			Help: "Total store logins by result",
		},
		[]string{"result"},
	)

	recoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipastore_appinfo_recoveries_total",
			Help: "Automatic app info recoveries (cookie refresh, purchase)",
		},
		[]string{"kind"},
	)

	versionLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipastore_version_lookups_total",
			Help: "Third-party version history lookups by source and result",
		},
		[]string{"source", "result"},
	)

	cachedApps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipastore_cached_apps",
			Help: "Number of apps held in the version cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpstream records a request to a remote endpoint. A status of 0 means
// the request never got a response.
func RecordUpstream(host string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	upstreamRequestsTotal.WithLabelValues(host, label).Inc()
	upstreamRequestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordLogin records a login attempt.
func RecordLogin(success bool) {
	loginsTotal.WithLabelValues(result(success)).Inc()
}

// RecordRecovery records an automatic recovery ("refresh" or "purchase").
func RecordRecovery(kind string) {
	recoveriesTotal.WithLabelValues(kind).Inc()
}

// RecordVersionLookup records a third-party lookup.
func RecordVersionLookup(source string, success bool) {
	versionLookupsTotal.WithLabelValues(source, result(success)).Inc()
}

// SetCachedApps sets the number of apps in the version cache.
func SetCachedApps(n int) {
	cachedApps.Set(float64(n))
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
