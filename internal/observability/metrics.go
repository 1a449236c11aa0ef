package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/spurchat/internal/reliability"
)

// Metrics groups all Prometheus instruments used by the service.
// Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry
	stages   *stageWindow

	Turns         *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	WSMessages    *prometheus.CounterVec
	WSConnections prometheus.Gauge
	StageLatency  *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newStageWindow(256),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_errors_total",
			Help:      "Failed chat operations by error kind.",
		}, []string{"kind"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction.",
		}, []string{"direction"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of open chat WebSocket connections.",
		}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_stage_latency_ms",
			Help:      "Latency of each chat turn stage in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
	}
}

// ObserveStage records how long one stage of a turn took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.observe(stage, ms)
}

// ObserveTurn counts a finished turn. A nil err is a success.
func (m *Metrics) ObserveTurn(err error) {
	if err == nil {
		m.Turns.WithLabelValues("ok").Inc()
		return
	}
	m.Turns.WithLabelValues("error").Inc()
	m.ObserveError(err)
}

// ObserveError counts err under its classified kind.
func (m *Metrics) ObserveError(err error) {
	if err == nil {
		return
	}
	kind := reliability.KindOf(err).String()
	m.Errors.WithLabelValues(kind).Inc()
	m.stages.fail(kind)
}

func (m *Metrics) ObserveWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	return m.stages.snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.reset()
}

// Handler serves this instance's registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
