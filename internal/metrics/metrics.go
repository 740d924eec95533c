package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Participation outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics provides observability for raffles, proof verification and the
// participation rate limiter. A nil *Metrics records nothing.
type Metrics struct {
	RafflesCreated     prometheus.Counter
	Participations     *prometheus.CounterVec
	ProofVerifications *prometheus.CounterVec
	VerifyDuration     prometheus.Histogram
	WinnersDrawn       prometheus.Counter
	RateLimited        prometheus.Counter
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RafflesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "wintrust_raffles_created_total",
			Help: "Total number of raffles created",
		}),
		Participations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wintrust_participations_total",
			Help: "Participation attempts by outcome",
		}, []string{"outcome"}),
		ProofVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wintrust_proof_verifications_total",
			Help: "World ID proof verifications by result",
		}, []string{"result"}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wintrust_proof_verify_duration_seconds",
			Help:    "Duration of upstream proof verification calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WinnersDrawn: f.NewCounter(prometheus.CounterOpts{
			Name: "wintrust_winners_drawn_total",
			Help: "Total number of raffle winners drawn",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "wintrust_rate_limited_total",
			Help: "Requests rejected by the participation rate limiter",
		}),
	}
}

func (m *Metrics) IncrementRafflesCreated() {
	if m == nil {
		return
	}
	m.RafflesCreated.Inc()
}

// ObserveParticipation records the outcome of one participation attempt.
func (m *Metrics) ObserveParticipation(outcome string) {
	if m == nil {
		return
	}
	m.Participations.WithLabelValues(outcome).Inc()
}

// ObserveVerification records a verification call that began at start.
func (m *Metrics) ObserveVerification(start time.Time, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ProofVerifications.WithLabelValues(result).Inc()
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementWinnersDrawn() {
	if m == nil {
		return
	}
	m.WinnersDrawn.Inc()
}

func (m *Metrics) IncrementRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
