package negotiation

import (
	"errors"

	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

var (
	// ErrNoParticipants is returned when a negotiation has nobody to negotiate with.
	ErrNoParticipants = target.ErrNoParticipants
	// ErrUnknownParticipant is returned when a participant id cannot be resolved.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrDuplicateResource is returned when a resource is reachable twice in one negotiation.
	ErrDuplicateResource = errors.New("resource reachable through several participants")
)

// Participant is an agent or a container taking part in a negotiation.
type Participant interface {
	ID() string
	Horizon() schedule.Horizon
	// Resources lists the store entries the participant writes on commit.
	Resources() []string
	Envelope() schedule.Envelope
	// Baseline returns the committed values.
	Baseline() []float64
	// Propose moves from base (nil means the committed baseline) by delta.
	// It returns false when no feasible move exists.
	Propose(round int, base *Proposal, delta []float64) (*Proposal, bool)
	Evaluate(p *Proposal) Verdict
	Commit(tx *schedule.Tx, p *Proposal) error
}

// Proposal is a candidate revision of the author's schedule.
type Proposal struct {
	ID      uint64      `json:"id"`
	Round   int         `json:"round"`
	Author  string      `json:"author"`
	Values  []float64   `json:"values"`
	Members []*Proposal `json:"members,omitempty"`
}

// Verdict is the outcome of evaluating a proposal.
type Verdict struct {
	Accept bool
	Reason string
}

func accept() Verdict { return Verdict{Accept: true} }

func reject(reason string) Verdict { return Verdict{Reason: reason} }

// Rejection reasons recorded in traces.
const (
	ReasonForeign       = "foreign proposal"
	ReasonStale         = "stale proposal"
	ReasonEnvelope      = "outside envelope"
	ReasonMismatch      = "aggregate mismatch"
	ReasonNoImprovement = "no improvement"
)

func valuesOf(p Participant, base *Proposal) []float64 {
	if base != nil {
		return append([]float64(nil), base.Values...)
	}
	return p.Baseline()
}
