// Package metrics exposes client-side session counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapclient"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	RefreshExchanges   *prometheus.CounterVec
	RefreshJoins       prometheus.Counter
	GatewayRetries     prometheus.Counter
	RecommendFallbacks *prometheus.CounterVec
	RecommendLookups   *prometheus.CounterVec
	SessionTeardowns   *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "exchanges_total",
			Help:      "Refresh exchanges performed against the backend, by outcome.",
		}, []string{"outcome"}),
		RefreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "satisfied_without_exchange_total",
			Help:      "Refresh requests answered by a credential another exchange had already rotated.",
		}),
		GatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Requests re-dispatched once after a successful refresh.",
		}),
		RecommendFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "fallbacks_total",
			Help:      "Privileged recommendation lookups that fell back to the public endpoint, by subject kind.",
		}, []string{"kind"}),
		RecommendLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "lookups_total",
			Help:      "Recommendation lookups sent, by scope.",
		}, []string{"scope"}),
		SessionTeardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "teardowns_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state changes, by target state.",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RefreshExchanges,
			m.RefreshJoins,
			m.GatewayRetries,
			m.RecommendFallbacks,
			m.RecommendLookups,
			m.SessionTeardowns,
			m.SessionTransitions,
		)
	}
	return m
}

func (m *Metrics) RefreshExchange(outcome string) {
	if m == nil {
		return
	}
	m.RefreshExchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.RefreshJoins.Inc()
}

func (m *Metrics) GatewayRetry() {
	if m == nil {
		return
	}
	m.GatewayRetries.Inc()
}

func (m *Metrics) RecommendFallback(kind string) {
	if m == nil {
		return
	}
	m.RecommendFallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecommendLookup(scope string) {
	if m == nil {
		return
	}
	m.RecommendLookups.WithLabelValues(scope).Inc()
}

func (m *Metrics) SessionTeardown(reason string) {
	if m == nil {
		return
	}
	m.SessionTeardowns.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}
