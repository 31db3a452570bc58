// Package metrics exposes ksbot's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the bot's collectors. Pass a dedicated registry in tests;
// nil registers on the prometheus default registry.
type Metrics struct {
	eventsTotal       prometheus.Counter
	pushesTotal       prometheus.Counter
	pushErrorsTotal   prometheus.Counter
	feedFetchesTotal  *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	busDroppedTotal   prometheus.Counter

	sessionState prometheus.Gauge
	pendingFeeds prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ksbot_events_total",
			Help: "Total number of ordered gateway events delivered",
		}),
		pushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ksbot_pushes_total",
			Help: "Total number of posts pushed to channels",
		}),
		pushErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ksbot_push_errors_total",
			Help: "Total number of failed post pushes",
		}),
		feedFetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ksbot_feed_fetches_total",
			Help: "Total number of feed fetch attempts by result",
		}, []string{"result"}),
		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ksbot_heartbeat_timeouts_total",
			Help: "Total number of heartbeat pong timeouts",
		}),
		busDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ksbot_bus_dropped_total",
			Help: "Total number of session events dropped by slow subscribers",
		}),
		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ksbot_session_state",
			Help: "Current session state machine state (ordinal)",
		}),
		pendingFeeds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ksbot_pending_feeds",
			Help: "Feeds currently waiting in the refresh queue",
		}),
	}
}

// All methods tolerate a nil receiver so callers can treat a nil
// *Metrics as metrics disabled.

func (m *Metrics) EventDelivered() {
	if m == nil {
		return
	}
	m.eventsTotal.Inc()
}

func (m *Metrics) PostPushed() {
	if m == nil {
		return
	}
	m.pushesTotal.Inc()
}

func (m *Metrics) PushFailed() {
	if m == nil {
		return
	}
	m.pushErrorsTotal.Inc()
}

func (m *Metrics) FeedFetched(result string) {
	if m == nil {
		return
	}
	m.feedFetchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) BusDropped(n int) {
	if m == nil {
		return
	}
	m.busDroppedTotal.Add(float64(n))
}

func (m *Metrics) SessionState(ordinal int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(ordinal))
}

func (m *Metrics) PendingFeeds(n int) {
	if m == nil {
		return
	}
	m.pendingFeeds.Set(float64(n))
}
