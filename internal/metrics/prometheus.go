package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	events            *prometheus.CounterVec
	signatureFailures *prometheus.CounterVec
	idempotentHits    *prometheus.CounterVec
	rateLimitBlocked  *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	deliveryDuration  prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookinbox_events_total",
				Help: "Inbound webhook requests by outcome",
			},
			[]string{"outcome"},
		),
		signatureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookinbox_signature_validation_failures_total",
				Help: "Requests rejected by signature verification",
			},
			[]string{"source"},
		),
		idempotentHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookinbox_idempotent_hits_total",
				Help: "Requests collapsed onto an existing event",
			},
			[]string{"source"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookinbox_rate_limit_blocked_total",
				Help: "Requests rejected by admission control",
			},
			[]string{"source"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookinbox_deliveries_total",
				Help: "Delivery attempts by outcome and response status",
			},
			[]string{"outcome", "status"},
		),
		deliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhookinbox_delivery_duration_ms",
				Help:    "Delivery attempt duration in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.events,
		p.signatureFailures,
		p.idempotentHits,
		p.rateLimitBlocked,
		p.deliveries,
		p.deliveryDuration,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) EventReceived(outcome string) {
	p.events.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) SignatureFailure(source string) {
	p.signatureFailures.WithLabelValues(source).Inc()
}

func (p *Prometheus) IdempotentHit(source string) {
	p.idempotentHits.WithLabelValues(source).Inc()
}

func (p *Prometheus) RateLimited(source string) {
	p.rateLimitBlocked.WithLabelValues(source).Inc()
}

func (p *Prometheus) DeliveryRecorded(outcome string, statusCode int, duration time.Duration) {
	status := "none"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	p.deliveries.WithLabelValues(outcome, status).Inc()
	p.deliveryDuration.Observe(float64(duration.Milliseconds()))
}
