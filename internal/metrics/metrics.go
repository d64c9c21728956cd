// Package metrics wires connection-lifecycle observability into
// Prometheus, an ambient concern carried alongside the client regardless
// of which request-level features are in scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters the connection state machine touches. A nil
// *Metrics is valid and every method becomes a no-op, so a Runtime built
// without a registry doesn't need to guard every call site.
type Metrics struct {
	stateTransitions *prometheus.CounterVec
	restarts         prometheus.Counter
	redirects        prometheus.Counter
	requestDuration  prometheus.Histogram
}

// New registers the client's metrics on reg. Passing a fresh
// prometheus.NewRegistry() is the usual case; production code typically
// passes prometheus.DefaultRegisterer wrapped in a *prometheus.Registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crequests",
			Name:      "connection_state_transitions_total",
			Help:      "Number of connection state transitions, by resulting state.",
		}, []string{"state"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crequests",
			Name:      "connection_restarts_total",
			Help:      "Number of one-shot stale-socket restarts performed.",
		}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crequests",
			Name:      "redirects_followed_total",
			Help:      "Number of 3xx redirect hops followed.",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crequests",
			Name:      "request_duration_seconds",
			Help:      "Time from connection start to a terminal state.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.stateTransitions, m.restarts, m.redirects, m.requestDuration)
	}

	return m
}

func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}

	m.stateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}

	m.restarts.Inc()
}

func (m *Metrics) IncRedirect() {
	if m == nil {
		return
	}

	m.redirects.Inc()
}

func (m *Metrics) ObserveDuration(seconds float64) {
	if m == nil {
		return
	}

	m.requestDuration.Observe(seconds)
}
