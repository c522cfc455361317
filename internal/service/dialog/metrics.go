package dialog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Exchange outcomes recorded by Metrics.
const (
	resultOK                = "ok"
	resultGenerationFailed  = "generation_failed"
	resultPersistenceFailed = "persistence_failed"
)

// Session removal reasons recorded by Metrics.
const (
	reasonIdle     = "idle"
	reasonExpired  = "expired"
	reasonShutdown = "shutdown"
)

// Metrics holds the registry's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	sessionsRemoved  *prometheus.CounterVec
	creationFailures prometheus.Counter
	exchanges        *prometheus.CounterVec
	droppedMessages  prometheus.Counter
	generateSeconds  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botdialog",
			Name:      "sessions_active",
			Help:      "Sessions currently registered.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botdialog",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botdialog",
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry, by reason.",
		}, []string{"reason"}),
		creationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botdialog",
			Name:      "session_creation_failures_total",
			Help:      "Session creations that failed the persona lookup.",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botdialog",
			Name:      "exchanges_total",
			Help:      "Processed messages, by result.",
		}, []string{"result"}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botdialog",
			Name:      "dropped_messages_total",
			Help:      "Queued messages abandoned by a force-stopped session.",
		}),
		generateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "botdialog",
			Name:      "generate_duration_seconds",
			Help:      "Latency of response generator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsActive,
			m.sessionsCreated,
			m.sessionsRemoved,
			m.creationFailures,
			m.exchanges,
			m.droppedMessages,
			m.generateSeconds,
		)
	}
	return m
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsRemoved.WithLabelValues(reason).Inc()
}

func (m *Metrics) creationFailed() {
	if m == nil {
		return
	}
	m.creationFailures.Inc()
}

func (m *Metrics) exchange(result string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedMessages.Add(float64(n))
}

func (m *Metrics) observeGenerate(d time.Duration) {
	if m == nil {
		return
	}
	m.generateSeconds.Observe(d.Seconds())
}
