package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the pipeline's refresh coordination and error
// classification. A nil *Metrics disables collection; every method
// tolerates a nil receiver, so the transport never has to check.
type Metrics struct {
	refreshTotal   *prometheus.CounterVec
	refreshJoins   prometheus.Counter
	pendingWaiters prometheus.Gauge
	retries        prometheus.Counter
	sessionEndings prometheus.Counter
	networkErrors  *prometheus.CounterVec
	typedErrors    *prometheus.CounterVec
}

// NewMetrics registers the pipeline's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "refresh_total",
			Help:      "Token refresh cycles by outcome.",
		}, []string{"outcome"}),
		refreshJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "refresh_joins_total",
			Help:      "Requests that waited on a refresh another request started.",
		}),
		pendingWaiters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "pending_waiters",
			Help:      "Requests currently held for an in-flight token refresh.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "unauthorized_retries_total",
			Help:      "Requests re-sent once after a 401.",
		}),
		sessionEndings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "session_endings_total",
			Help:      "Terminal 401 outcomes that cleared the stored session.",
		}),
		networkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "network_errors_total",
			Help:      "Transport-level failures by kind.",
		}, []string{"kind"}),
		typedErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medigate",
			Subsystem: "pipeline",
			Name:      "classified_errors_total",
			Help:      "Non-2xx responses classified into typed errors, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) refreshOutcome(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) joinedRefresh() {
	if m == nil {
		return
	}
	m.refreshJoins.Inc()
}

func (m *Metrics) waiterEnqueued() {
	if m == nil {
		return
	}
	m.pendingWaiters.Inc()
}

func (m *Metrics) waiterReleased() {
	if m == nil {
		return
	}
	m.pendingWaiters.Dec()
}

func (m *Metrics) retriedRequest() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.sessionEndings.Inc()
}

func (m *Metrics) networkFailure(kind NetworkKind) {
	if m == nil {
		return
	}
	m.networkErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) errorClassified(kind string) {
	if m == nil {
		return
	}
	m.typedErrors.WithLabelValues(kind).Inc()
}
