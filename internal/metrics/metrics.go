package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the server exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	Intents          *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	Reconnects       prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	ConnectionsOpen  prometheus.Gauge
	RLRequests       *prometheus.CounterVec
	RLBlocked        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duel_sessions_active",
			Help: "Match sessions currently running",
		}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duel_intents_total",
			Help: "Client intents processed by match sessions",
		}, []string{"type"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duel_rejections_total",
			Help: "Intents rejected, by reason",
		}, []string{"reason"}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duel_phase_transitions_total",
			Help: "Phase transitions, by phase entered and trigger",
		}, []string{"phase", "trigger"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duel_reconnects_total",
			Help: "Participants that rejoined an active match",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duel_sessions_ended_total",
			Help: "Matches ended, by result reason",
		}, []string{"reason"}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duel_ws_connections_active",
			Help: "Open websocket connections",
		}),
		RLRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limiter_requests_total",
			Help: "Total requests seen by the rate limiter",
		}, []string{"endpoint"}),
		RLBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limiter_blocked_total",
			Help: "Total requests blocked by the rate limiter",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive, m.Intents, m.Rejections, m.PhaseTransitions,
			m.Reconnects, m.SessionsEnded, m.ConnectionsOpen, m.RLRequests, m.RLBlocked,
		)
	}
	return m
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) Intent(kind string) {
	if m != nil {
		m.Intents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transition(phase, trigger string) {
	if m != nil {
		m.PhaseTransitions.WithLabelValues(phase, trigger).Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) Ended(reason string) {
	if m != nil {
		m.SessionsEnded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ConnectionsOpen.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ConnectionsOpen.Dec()
	}
}

func (m *Metrics) RateLimited(endpoint string, blocked bool) {
	if m == nil {
		return
	}
	if blocked {
		m.RLBlocked.WithLabelValues(endpoint).Inc()
		return
	}
	m.RLRequests.WithLabelValues(endpoint).Inc()
}
