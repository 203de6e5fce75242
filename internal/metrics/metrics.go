// Package metrics provides Prometheus metrics for the poll loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ratewatch/ratewatch/internal/core"
)

const namespace = "ratewatch"

// Collector holds all Prometheus metrics for ratewatch. A nil Collector
// ignores every observation.
type Collector struct {
	registry *prometheus.Registry

	UsagePercent    *prometheus.GaugeVec
	PollOutcomes    *prometheus.CounterVec
	AlertsTotal     *prometheus.CounterVec
	NotifyFailures  *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	RegistryReloads prometheus.Counter
	MonitoredAPIs   prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Panics          prometheus.Counter
}

// New creates a collector on its own registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a collector registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		UsagePercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "usage_percent",
				Help:      "Most recent rate limit usage per API, in percent",
			},
			[]string{"api"},
		),
		PollOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_outcomes_total",
				Help:      "Poll results by API and outcome",
			},
			[]string{"api", "outcome"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts fired per API",
			},
			[]string{"api"},
		),
		NotifyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_failures_total",
				Help:      "Alert deliveries that failed",
			},
			[]string{"api", "backend"},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a full poll cycle",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		RegistryReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reloads_total",
				Help:      "Registry file reloads picked up while running",
			},
		),
		MonitoredAPIs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitored_apis",
				Help:      "Number of APIs in the registry",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Requests served by the status server",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Status server request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		Panics: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_panics_total",
				Help:      "Handler panics recovered by the status server",
			},
		),
	}
}

func (c *Collector) ObserveOutcome(outcome core.CycleOutcome) {
	if c == nil {
		return
	}
	c.PollOutcomes.WithLabelValues(outcome.APIName, string(outcome.Kind)).Inc()
	if outcome.Sample != nil {
		c.UsagePercent.WithLabelValues(outcome.APIName).Set(outcome.Sample.UsagePercent())
	}
	if outcome.AlertFired {
		c.AlertsTotal.WithLabelValues(outcome.APIName).Inc()
	}
}

func (c *Collector) ObserveNotifyFailure(apiName, backend string) {
	if c == nil {
		return
	}
	c.NotifyFailures.WithLabelValues(apiName, backend).Inc()
}

func (c *Collector) ObserveCycle(duration time.Duration) {
	if c == nil {
		return
	}
	c.CycleDuration.Observe(duration.Seconds())
}

// ObserveRegistry records a reload and the new registry size.
func (c *Collector) ObserveRegistry(apis int, reloaded bool) {
	if c == nil {
		return
	}
	c.MonitoredAPIs.Set(float64(apis))
	if reloaded {
		c.RegistryReloads.Inc()
	}
}

// ForgetAPI drops every per-API series for an API no longer registered.
func (c *Collector) ForgetAPI(apiName string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"api": apiName}
	c.UsagePercent.DeletePartialMatch(labels)
	c.PollOutcomes.DeletePartialMatch(labels)
	c.AlertsTotal.DeletePartialMatch(labels)
	c.NotifyFailures.DeletePartialMatch(labels)
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one served request on the status server.
func (c *Collector) ObserveHTTP(method, endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObservePanic counts a handler panic recovered by the server.
func (c *Collector) ObservePanic() {
	if c == nil {
		return
	}
	c.Panics.Inc()
}
