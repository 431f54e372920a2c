package negotiation

// Status is the lifecycle state of a negotiation.
type Status string

const (
	StatusInProgress       Status = "in_progress"
	StatusConverged        Status = "converged"
	StatusDeadlineExceeded Status = "deadline_exceeded"
	StatusInfeasible       Status = "infeasible"
)

// Terminal reports whether s ends a negotiation.
func (s Status) Terminal() bool { return s != StatusInProgress && s != "" }

// State is the negotiation state at a round boundary.
type State struct {
	Participants []string             `json:"participants"`
	Round        int                  `json:"round"`
	Latest       map[string]*Proposal `json:"latest"`
	Delta        []float64            `json:"delta"`
	Status       Status               `json:"status"`
}

// ProposalTrace is the trace entry of one proposal.
type ProposalTrace struct {
	ID       uint64    `json:"id"`
	Author   string    `json:"author"`
	Values   []float64 `json:"values"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
}

// RoundTrace records one evaluated round. It carries no wall-clock data so
// identical inputs produce identical traces.
type RoundTrace struct {
	Round     int             `json:"round"`
	Requested int             `json:"requested"`
	Proposals []ProposalTrace `json:"proposals"`
	// Idle lists participants that reported no feasible improvement.
	Idle      []string  `json:"idle,omitempty"`
	Delta     []float64 `json:"delta"`
	Objective float64   `json:"objective"`
	Improved  bool      `json:"improved"`
}

// Accepted counts the accepted proposals of the round.
func (r RoundTrace) Accepted() int {
	n := 0
	for _, p := range r.Proposals {
		if p.Accepted {
			n++
		}
	}
	return n
}
