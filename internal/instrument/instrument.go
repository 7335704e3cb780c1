// Package instrument holds the Prometheus collectors of the service. All
// methods are safe to call on a nil *Metrics, which records nothing.
package instrument

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nanoassist"

type Metrics struct {
	registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	queryFailures    *prometheus.CounterVec
	loginAttempts    *prometheus.CounterVec
	realtimeDropped  *prometheus.CounterVec
	subscribers      prometheus.Gauge
	watchdogFired    prometheus.Counter
	profileFallbacks *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors plus the
// service's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		queryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_query_failures_total",
			Help:      "Chart source queries that failed and were treated as empty.",
		}, []string{"stream"}),
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		realtimeDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_dropped_total",
			Help:      "Change notifications dropped because a subscriber was full.",
		}, []string{"table"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscribers",
			Help:      "Active realtime subscriptions.",
		}),
		watchdogFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_watchdog_fired_total",
			Help:      "Session bootstraps that were ended by the watchdog.",
		}),
		profileFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fallbacks_total",
			Help:      "Profiles served from the cache or as a degraded default.",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) QueryFailed(stream string) {
	if m == nil {
		return
	}
	m.queryFailures.WithLabelValues(stream).Inc()
}

func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RealtimeDropped(table string) {
	if m == nil {
		return
	}
	m.realtimeDropped.WithLabelValues(table).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) WatchdogFired() {
	if m == nil {
		return
	}
	m.watchdogFired.Inc()
}

func (m *Metrics) ProfileFallback(source string) {
	if m == nil {
		return
	}
	m.profileFallbacks.WithLabelValues(source).Inc()
}
