package negotiation

import "github.com/prometheus/client_golang/prometheus"

var (
	roundsTotal        prometheus.Counter
	proposalsEvaluated *prometheus.CounterVec
	negotiationSeconds *prometheus.HistogramVec
)

func newCollectors() (prometheus.Counter, *prometheus.CounterVec, *prometheus.HistogramVec) {
	rounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_engine_rounds_total",
		Help: "Number of negotiation rounds evaluated",
	})
	proposals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_engine_proposals_total",
		Help: "Number of proposals evaluated by verdict",
	}, []string{"verdict"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "negotiation_run_duration_seconds",
		Help:    "Wall time of a negotiation including lease wait",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	return rounds, proposals, duration
}

func init() {
	roundsTotal, proposalsEvaluated, negotiationSeconds = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers engine metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(roundsTotal, proposalsEvaluated, negotiationSeconds)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	roundsTotal, proposalsEvaluated, negotiationSeconds = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
