// Package metrics exposes Prometheus counters for the session manager.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Renewal outcomes.
const (
	OutcomeSuccess         = "success"
	OutcomeFailure         = "failure"
	OutcomeCooldown        = "cooldown"
	OutcomeCeiling         = "ceiling"
	OutcomeLoggedOut       = "logged_out"
	OutcomeIdentityFailure = "identity_failure"
	OutcomeShared          = "shared"
	OutcomeFallback        = "fallback"
	OutcomeCached          = "cached"
	OutcomeSkipped         = "skipped"
)

type Metrics struct {
	renewals  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	resources *prometheus.CounterVec
	shared    *prometheus.CounterVec
}

// New registers the session counters on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_renewals_total",
			Help: "Access credential renewal attempts by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_request_retries_total",
			Help: "Requests re-issued after an authorization failure, by outcome.",
		}, []string{"outcome"}),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_resource_loads_total",
			Help: "Cached resource loads by resource and outcome.",
		}, []string{"resource", "outcome"}),
		shared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_dedup_shared_total",
			Help: "Callers that joined an in-flight fetch instead of starting one.",
		}, []string{"key"}),
	}
	if reg != nil {
		reg.MustRegister(m.renewals, m.retries, m.resources, m.shared)
	}
	return m
}

func (m *Metrics) Renewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResourceLoad(resource, outcome string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) Shared(key string) {
	if m == nil {
		return
	}
	m.shared.WithLabelValues(key).Inc()
}

// Renewals returns the renewal counter vector, for tests and exporters.
func (m *Metrics) Renewals() *prometheus.CounterVec { return m.renewals }

func (m *Metrics) Retries() *prometheus.CounterVec { return m.retries }

func (m *Metrics) ResourceLoads() *prometheus.CounterVec { return m.resources }

func (m *Metrics) SharedFetches() *prometheus.CounterVec { return m.shared }
