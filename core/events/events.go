package events

// Event is implemented by every negotiation event.
type Event interface {
	Negotiation() string
}

// RoundEvent is published after each evaluated round.
type RoundEvent struct {
	NegotiationID string
	Round         int
	Proposals     int
	Accepted      int
	Objective     float64
	MaxAbsDelta   float64
}

// Negotiation implements Event.
func (e RoundEvent) Negotiation() string { return e.NegotiationID }

// OutcomeEvent is published once a negotiation leaves in_progress.
type OutcomeEvent struct {
	NegotiationID string
	Status        string
	Rounds        int
	Committed     bool
}

func (e OutcomeEvent) Negotiation() string { return e.NegotiationID }

// CommitEvent lists the resources whose schedules changed.
type CommitEvent struct {
	NegotiationID string
	Resources     []string
}

func (e CommitEvent) Negotiation() string { return e.NegotiationID }
