// Package metrics holds the Prometheus collectors shared by the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chzpuri"

// Engine bundles collectors for event ingress, the command bridge and the
// player. A nil *Engine is valid and records nothing.
type Engine struct {
	eventsReceived   *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	duplicates       prometheus.Counter
	bridgeCalls      *prometheus.CounterVec
	playerInit       *prometheus.CounterVec
	playerErrors     *prometheus.CounterVec
	autoplayAdvances prometheus.Counter
	breakerState     *prometheus.GaugeVec
	breakerRejected  *prometheus.CounterVec
	transportReconns *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Engine {
	m := &Engine{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events delivered by a transport, per channel",
		}, []string{"channel"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped before reaching a handler",
		}, []string{"channel", "reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_duplicates_absorbed_total",
			Help:      "Chat records ignored because their id was already in the log",
		}),
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Outbound backend calls by call name and outcome",
		}, []string{"call", "outcome"}),
		playerInit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_init_attempts_total",
			Help:      "Player creation attempts by outcome",
		}, []string{"outcome"}),
		playerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_errors_total",
			Help:      "Playback errors reported by the player, by kind",
		}, []string{"kind"}),
		autoplayAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autoplay_advances_total",
			Help:      "Skip-to-next requests issued by autoplay",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_breaker_state",
			Help:      "Backend RPC circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		breakerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_breaker_rejected_total",
			Help:      "Backend RPC calls rejected by an open circuit breaker",
		}, []string{"name"}),
		transportReconns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Event transport reconnect attempts",
		}, []string{"transport"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.eventsReceived,
			m.eventsDropped,
			m.duplicates,
			m.bridgeCalls,
			m.playerInit,
			m.playerErrors,
			m.autoplayAdvances,
			m.breakerState,
			m.breakerRejected,
			m.transportReconns,
		)
	}
	return m
}

func (m *Engine) IncEventsReceived(channel string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(channel).Inc()
}

func (m *Engine) IncEventsDropped(channel, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Engine) IncDuplicates() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// ObserveBridgeCall records one finished outbound call. outcome is "ok" or
// "error".
func (m *Engine) ObserveBridgeCall(call, outcome string) {
	if m == nil {
		return
	}
	m.bridgeCalls.WithLabelValues(call, outcome).Inc()
}

func (m *Engine) IncPlayerInit(outcome string) {
	if m == nil {
		return
	}
	m.playerInit.WithLabelValues(outcome).Inc()
}

func (m *Engine) IncPlayerErrors(kind string) {
	if m == nil {
		return
	}
	m.playerErrors.WithLabelValues(kind).Inc()
}

func (m *Engine) IncAutoplayAdvances() {
	if m == nil {
		return
	}
	m.autoplayAdvances.Inc()
}

func (m *Engine) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

func (m *Engine) IncBreakerRejected(name string) {
	if m == nil {
		return
	}
	m.breakerRejected.WithLabelValues(name).Inc()
}

func (m *Engine) IncTransportReconnects(transport string) {
	if m == nil {
		return
	}
	m.transportReconns.WithLabelValues(transport).Inc()
}
