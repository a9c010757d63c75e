package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus groups the instruments mirrored from the Collector.
type Prometheus struct {
	registry *prometheus.Registry

	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec
	WriteBackQueued   prometheus.Gauge
	CrisisTurns       prometheus.Counter
}

// NewPrometheus registers instruments on a private registry under namespace.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_ms",
			Help:      "Duration of memory, store and model operations in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"op"}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by type.",
		}, []string{"op"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Completion tokens by direction.",
		}, []string{"op", "direction"}),
		WriteBackQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writeback_pending",
			Help:      "Memory write-back jobs queued or running.",
		}),
		CrisisTurns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_turns_total",
			Help:      "Turns flagged by crisis detection.",
		}),
	}
}

// Registry exposes the private registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) observe(op string, d time.Duration, err error) {
	if p == nil {
		return
	}
	p.OperationDuration.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	if err != nil {
		p.OperationErrors.WithLabelValues(op).Inc()
	}
}

func (p *Prometheus) tokens(op string, in, out int64) {
	if p == nil {
		return
	}
	p.LLMTokens.WithLabelValues(op, "input").Add(float64(in))
	p.LLMTokens.WithLabelValues(op, "output").Add(float64(out))
}

// WriteBackStarted and WriteBackDone track the pending write-back gauge.
func (p *Prometheus) WriteBackStarted() {
	if p != nil {
		p.WriteBackQueued.Inc()
	}
}

func (p *Prometheus) WriteBackDone() {
	if p != nil {
		p.WriteBackQueued.Dec()
	}
}

// CrisisFlagged counts a crisis-flagged turn.
func (p *Prometheus) CrisisFlagged() {
	if p != nil {
		p.CrisisTurns.Inc()
	}
}
