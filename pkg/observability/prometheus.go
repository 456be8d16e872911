package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements UpdateHooks, CacheHooks and HTTPHooks by recording
// into Prometheus collectors.
type Prometheus struct {
	checks       *prometheus.CounterVec
	checkSeconds *prometheus.HistogramVec
	poolActive   prometheus.Gauge
	groups       *prometheus.CounterVec
	cacheOps     *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixupdate_checks_total",
				Help: "Package checks by outcome.",
			},
			[]string{"outcome"},
		),
		checkSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nixupdate_check_duration_seconds",
				Help:    "Duration of a single package pipeline.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"outcome"},
		),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nixupdate_pool_active",
			Help: "Pipelines currently running.",
		}),
		groups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixupdate_group_members_total",
				Help: "Group members processed, by result.",
			},
			[]string{"group", "result"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixupdate_cache_operations_total",
				Help: "Response cache operations.",
			},
			[]string{"key_type", "op"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixupdate_http_requests_total",
				Help: "Upstream API requests by host and status code.",
			},
			[]string{"method", "host", "code"},
		),
		httpSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nixupdate_http_request_duration_seconds",
				Help:    "Upstream API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "host"},
		),
		httpErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixupdate_http_errors_total",
				Help: "Upstream API requests that failed before a response.",
			},
			[]string{"method", "host"},
		),
	}

	reg.MustRegister(
		p.checks,
		p.checkSeconds,
		p.poolActive,
		p.groups,
		p.cacheOps,
		p.httpRequests,
		p.httpSeconds,
		p.httpErrors,
	)
	return p
}

func (p *Prometheus) OnCheckStart(context.Context, string) {}

func (p *Prometheus) OnCheckComplete(_ context.Context, _ string, outcome string, d time.Duration) {
	p.checks.WithLabelValues(outcome).Inc()
	p.checkSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) OnPoolActive(_ context.Context, active int) {
	p.poolActive.Set(float64(active))
}

func (p *Prometheus) OnGroupComplete(_ context.Context, group string, updated, failed int) {
	p.groups.WithLabelValues(group, OutcomeUpdated).Add(float64(updated))
	p.groups.WithLabelValues(group, OutcomeFailed).Add(float64(failed))
}

func (p *Prometheus) OnCacheHit(_ context.Context, keyType string) {
	p.cacheOps.WithLabelValues(keyType, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, keyType string) {
	p.cacheOps.WithLabelValues(keyType, "miss").Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, keyType string, _ int) {
	p.cacheOps.WithLabelValues(keyType, "set").Inc()
}

func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, method, host, _ string, code int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, host, strconv.Itoa(code)).Inc()
	p.httpSeconds.WithLabelValues(method, host).Observe(d.Seconds())
}

func (p *Prometheus) OnError(_ context.Context, method, host, _ string, _ error) {
	p.httpErrors.WithLabelValues(method, host).Inc()
}

var (
	_ UpdateHooks = (*Prometheus)(nil)
	_ CacheHooks  = (*Prometheus)(nil)
	_ HTTPHooks   = (*Prometheus)(nil)
)
