package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/dernego/core/metrics"
)

// PromSink records negotiation outcomes in Prometheus metrics.
type PromSink struct {
	outcomes  *prometheus.CounterVec
	rounds    *prometheus.HistogramVec
	objective *prometheus.GaugeVec
	proposals *prometheus.CounterVec
	leaseWait prometheus.Histogram
}

// NewPromSink registers negotiation metrics on the default registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_outcomes_total",
		Help: "Finished negotiations by terminal status",
	}, []string{"status", "committed"})
	rounds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "negotiation_rounds",
		Help:    "Rounds needed to reach a terminal status",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
	}, []string{"status"})
	objective := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "negotiation_objective",
		Help: "Weighted distance to target at the last round",
	}, []string{"negotiation_id"})
	proposals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_round_proposals_total",
		Help: "Proposals seen per round by verdict",
	}, []string{"accepted"})
	leaseWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "negotiation_lease_wait_seconds",
		Help:    "Time spent waiting for the resource lease",
		Buckets: prometheus.DefBuckets,
	})

	var err error
	if outcomes, err = register(reg, outcomes); err != nil {
		return nil, err
	}
	if rounds, err = register(reg, rounds); err != nil {
		return nil, err
	}
	if objective, err = register(reg, objective); err != nil {
		return nil, err
	}
	if proposals, err = register(reg, proposals); err != nil {
		return nil, err
	}
	if leaseWait, err = register(reg, leaseWait); err != nil {
		return nil, err
	}
	return &PromSink{outcomes: outcomes, rounds: rounds, objective: objective, proposals: proposals, leaseWait: leaseWait}, nil
}

// register reuses an already registered collector of the same shape.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOutcome implements coremetrics.Sink.
func (s *PromSink) RecordOutcome(rec coremetrics.OutcomeRecord) error {
	s.outcomes.WithLabelValues(rec.Status, strconv.FormatBool(rec.Committed)).Inc()
	s.rounds.WithLabelValues(rec.Status).Observe(float64(rec.Rounds))
	s.objective.WithLabelValues(rec.NegotiationID).Set(rec.Objective)
	return nil
}

// RecordRound counts the proposals of one round.
func (s *PromSink) RecordRound(rec coremetrics.RoundRecord) error {
	s.proposals.WithLabelValues("true").Add(float64(rec.Accepted))
	s.proposals.WithLabelValues("false").Add(float64(rec.Proposals - rec.Accepted))
	return nil
}

// RecordLeaseWait observes the lease acquisition latency.
func (s *PromSink) RecordLeaseWait(w coremetrics.LeaseWait) error {
	s.leaseWait.Observe(w.Wait.Seconds())
	return nil
}
