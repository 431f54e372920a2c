package metrics

import "time"

// OutcomeRecord summarises one finished negotiation.
type OutcomeRecord struct {
	NegotiationID string
	Status        string
	Rounds        int
	Participants  int
	Objective     float64
	Committed     bool
	Duration      time.Duration
	Time          time.Time
}

// Sink records negotiation outcomes for observability purposes.
type Sink interface {
	RecordOutcome(rec OutcomeRecord) error
}

// RoundRecord captures the statistics of one round.
type RoundRecord struct {
	NegotiationID string
	Round         int
	Proposals     int
	Accepted      int
	Objective     float64
	MaxAbsDelta   float64
	Time          time.Time
}

// RoundRecorder is implemented by sinks able to record per-round statistics.
type RoundRecorder interface {
	RecordRound(rec RoundRecord) error
}

// LeaseWait is the time a negotiation waited for its resources.
type LeaseWait struct {
	NegotiationID string
	Resources     int
	Wait          time.Duration
}

// LeaseWaitRecorder records lease acquisition latency.
type LeaseWaitRecorder interface {
	RecordLeaseWait(w LeaseWait) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOutcome(OutcomeRecord) error { return nil }
func (NopSink) RecordRound(RoundRecord) error     { return nil }
func (NopSink) RecordLeaseWait(LeaseWait) error   { return nil }
