// Package metrics exposes Prometheus collectors for routing outcomes,
// completion latency and HTTP traffic. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "switchyard"

// Route outcomes.
const (
	OutcomeAnswered      = "answered"
	OutcomeClarification = "clarification"
	OutcomeRedirect      = "redirect"
	OutcomeError         = "error"
)

// Metrics holds the collectors.
type Metrics struct {
	routes             *prometheus.CounterVec
	confidence         prometheus.Histogram
	fallbacks          *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	rateLimited        prometheus.Counter
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused, so several Metrics may share
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Chat requests by target agent and outcome.",
		}, []string{"agent", "outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classification_confidence",
			Help:      "Confidence reported by the classifier for unrouted messages.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Classifier or scope guard replies replaced by a default.",
		}, []string{"stage"}),
		completionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion backend calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}),
	}

	var err error
	if m.routes, err = register(reg, m.routes); err != nil {
		return nil, err
	}
	if m.confidence, err = register(reg, m.confidence); err != nil {
		return nil, err
	}
	if m.fallbacks, err = register(reg, m.fallbacks); err != nil {
		return nil, err
	}
	if m.completionDuration, err = register(reg, m.completionDuration); err != nil {
		return nil, err
	}
	if m.httpRequests, err = register(reg, m.httpRequests); err != nil {
		return nil, err
	}
	if m.rateLimited, err = register(reg, m.rateLimited); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRoute counts one routed request.
func (m *Metrics) ObserveRoute(agent, outcome string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(agent, outcome).Inc()
}

// ObserveConfidence records a classifier confidence score.
func (m *Metrics) ObserveConfidence(c float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(c)
}

// ObserveFallback counts a default substituted for unusable output at stage
// ("classify" or "scope").
func (m *Metrics) ObserveFallback(stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage).Inc()
}

// ObserveCompletion records the latency of one completion call.
func (m *Metrics) ObserveCompletion(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.completionDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

// ObserveHTTP counts one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}

// IncRateLimited counts one rejected request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
