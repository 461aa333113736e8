// Package metrics holds the Prometheus collectors for gate decisions, logins
// and session store maintenance. A nil *Metrics records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oauth_session"

// Gate decision labels.
const (
	DecisionAllowed   = "allowed"
	DecisionForbidden = "forbidden"
	DecisionError     = "error"
)

// Login result labels.
const (
	LoginStarted   = "started"
	LoginSucceeded = "succeeded"
	LoginFailed    = "failed"
)

// Metrics groups the collectors. Its methods are safe on a nil receiver.
type Metrics struct {
	// GateDecisions counts gate outcomes by policy (all, any) and decision
	GateDecisions *prometheus.CounterVec
	// Logins counts login flow steps by result
	Logins *prometheus.CounterVec
	// OutboundRequests counts authenticated requests by method and status class
	OutboundRequests *prometheus.CounterVec
	// SessionsRemoved counts sessions deleted by maintenance by reason (expired, incomplete, invalid)
	SessionsRemoved *prometheus.CounterVec
}

// New registers the collectors with reg. It panics on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of authorization gate decisions by policy and decision",
		}, []string{"policy", "decision"}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "steps_total",
			Help:      "Total number of login flow steps by result",
		}, []string{"result"}),
		OutboundRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "requests_total",
			Help:      "Total number of authenticated outbound requests by method and status",
		}, []string{"method", "status"}),
		SessionsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions_removed_total",
			Help:      "Total number of sessions removed from the store by reason",
		}, []string{"reason"}),
	}
}

// Gate records one gate decision under policy.
func (m *Metrics) Gate(policy, decision string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(policy, decision).Inc()
}

// Login records one login flow step.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// Outbound records a request; status is the response status class (2xx, 4xx...)
// or "error" when no response arrived.
func (m *Metrics) Outbound(method, status string) {
	if m == nil {
		return
	}
	m.OutboundRequests.WithLabelValues(method, status).Inc()
}

// Removed adds n sessions deleted by maintenance for reason.
func (m *Metrics) Removed(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRemoved.WithLabelValues(reason).Add(float64(n))
}
