package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	busyRetries prometheus.Counter
	rateLimited prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailroom_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailroom_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		busyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_store_busy_retries_total",
			Help: "Retries caused by store contention.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_http_rate_limited_total",
			Help: "Requests rejected by the per-caller rate limiter.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.busyRetries, m.rateLimited)
	return m
}

func (m *metrics) observe(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
