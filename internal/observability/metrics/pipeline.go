package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal      *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processInFlight   prometheus.Gauge
	queueDepth        prometheus.Gauge
	llmRequestsTotal  *prometheus.CounterVec
	rotationsTotal    prometheus.Counter
	dispatchTotal     *prometheus.CounterVec
	escalationsTotal  *prometheus.CounterVec
	watcherState      *prometheus.GaugeVec
	watcherReconnects prometheus.Counter
	breakerState      *prometheus.GaugeVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoresponder",
			Subsystem: "pipeline",
			Name:      "messages_processed_total",
			Help:      "Total processed messages by terminal disposition.",
		},
		[]string{"service", "disposition"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autoresponder",
			Subsystem: "pipeline",
			Name:      "message_process_duration_seconds",
			Help:      "Message processing duration in seconds by disposition, post-send delay excluded.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "disposition"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "autoresponder",
			Subsystem:   "pipeline",
			Name:        "messages_in_flight",
			Help:        "Number of messages currently being processed.",
			ConstLabels: constLabels,
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "autoresponder",
			Subsystem:   "pipeline",
			Name:        "queue_depth",
			Help:        "Messages waiting in the processing queue.",
			ConstLabels: constLabels,
		},
	)
	llmRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoresponder",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Language-model calls by result.",
		},
		[]string{"service", "result"},
	)
	rotationsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "autoresponder",
			Subsystem:   "llm",
			Name:        "credential_rotations_total",
			Help:        "Credential rotations caused by failed calls.",
			ConstLabels: constLabels,
		},
	)
	dispatchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoresponder",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Outbound reply sends by result.",
		},
		[]string{"service", "result"},
	)
	escalationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoresponder",
			Subsystem: "escalation",
			Name:      "created_total",
			Help:      "Escalations created by priority.",
		},
		[]string{"service", "priority"},
	)
	watcherState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "autoresponder",
			Subsystem:   "watcher",
			Name:        "state",
			Help:        "Current mailbox watcher state (1 for the active state).",
			ConstLabels: constLabels,
		},
		[]string{"state"},
	)
	watcherReconnects := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "autoresponder",
			Subsystem:   "watcher",
			Name:        "reconnects_total",
			Help:        "Mailbox reconnect cycles.",
			ConstLabels: constLabels,
		},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "autoresponder",
			Subsystem:   "resilience",
			Name:        "breaker_state",
			Help:        "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueDepth,
		llmRequestsTotal,
		rotationsTotal,
		dispatchTotal,
		escalationsTotal,
		watcherState,
		watcherReconnects,
		breakerState,
	)

	return &PipelineMetrics{
		registry:          registry,
		service:           service,
		processTotal:      processTotal,
		processDuration:   processDuration,
		processInFlight:   processInFlight,
		queueDepth:        queueDepth,
		llmRequestsTotal:  llmRequestsTotal,
		rotationsTotal:    rotationsTotal,
		dispatchTotal:     dispatchTotal,
		escalationsTotal:  escalationsTotal,
		watcherState:      watcherState,
		watcherReconnects: watcherReconnects,
		breakerState:      breakerState,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartMessage() {
	m.processInFlight.Inc()
}

func (m *PipelineMetrics) FinishMessage(disposition string, duration time.Duration) {
	m.processInFlight.Dec()
	if disposition == "" {
		disposition = "failed"
	}
	m.processTotal.WithLabelValues(m.service, disposition).Inc()
	m.processDuration.WithLabelValues(m.service, disposition).Observe(duration.Seconds())
}

func (m *PipelineMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PipelineMetrics) ObserveLLMCall(result string) {
	m.llmRequestsTotal.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) ObserveCredentialRotation() {
	m.rotationsTotal.Inc()
}

func (m *PipelineMetrics) ObserveDispatch(result string) {
	m.dispatchTotal.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) ObserveEscalation(priority string) {
	m.escalationsTotal.WithLabelValues(m.service, priority).Inc()
}

func (m *PipelineMetrics) ObserveWatcherState(state string) {
	m.watcherState.Reset()
	m.watcherState.WithLabelValues(state).Set(1)
}

func (m *PipelineMetrics) ObserveReconnect() {
	m.watcherReconnects.Inc()
}

// ObserveBreakerState matches resilience.Config.OnStateChange.
func (m *PipelineMetrics) ObserveBreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
