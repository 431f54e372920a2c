package negotiation

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/dernego/core/schedule"
)

// Container aggregates a fixed set of members and negotiates their summed
// schedule. The aggregate is derived from member baselines on every call.
type Container struct {
	id      string
	members []Participant
	horizon schedule.Horizon

	mu  sync.Mutex
	seq uint64
}

// NewContainer builds a container over members. Membership is fixed.
func NewContainer(id string, members ...Participant) (*Container, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("container %s: %w", id, ErrNoParticipants)
	}
	h := members[0].Horizon()
	seen := make(map[string]string)
	for _, m := range members {
		if !m.Horizon().Equal(h) {
			return nil, fmt.Errorf("container %s: member %s uses another horizon", id, m.ID())
		}
		for _, r := range m.Resources() {
			if prev, ok := seen[r]; ok {
				return nil, fmt.Errorf("container %s: %w: %s via %s and %s", id, ErrDuplicateResource, r, prev, m.ID())
			}
			seen[r] = m.ID()
		}
	}
	return &Container{id: id, members: append([]Participant(nil), members...), horizon: h}, nil
}

func (c *Container) ID() string                { return c.id }
func (c *Container) Horizon() schedule.Horizon { return c.horizon }

// Members returns the member participants in registration order.
func (c *Container) Members() []Participant { return append([]Participant(nil), c.members...) }

// Resources is the union of member resources.
func (c *Container) Resources() []string {
	var out []string
	for _, m := range c.members {
		out = append(out, m.Resources()...)
	}
	return out
}

// Envelope is the elementwise sum of member envelopes.
func (c *Container) Envelope() schedule.Envelope {
	envs := make([]schedule.Envelope, len(c.members))
	for i, m := range c.members {
		envs[i] = m.Envelope()
	}
	return schedule.SumEnvelopes(c.horizon.Intervals, envs...)
}

// Baseline is the sum of member baselines.
func (c *Container) Baseline() []float64 {
	out := make([]float64, c.horizon.Intervals)
	for _, m := range c.members {
		floats.Add(out, m.Baseline())
	}
	return out
}

// Aggregate returns the summed committed schedule of the members.
func (c *Container) Aggregate() schedule.Schedule {
	return schedule.Schedule{Start: c.horizon.Start, Step: c.horizon.Step, Values: c.Baseline()}
}

// Propose hands the delta to members in registration order; each member
// absorbs what it can and passes the remainder on.
func (c *Container) Propose(round int, base *Proposal, delta []float64) (*Proposal, bool) {
	remaining := append([]float64(nil), delta...)
	subs := make([]*Proposal, len(c.members))
	values := make([]float64, c.horizon.Intervals)
	moved := false
	for i, m := range c.members {
		var mb *Proposal
		if base != nil && i < len(base.Members) {
			mb = base.Members[i]
		}
		cur := valuesOf(m, mb)
		p, ok := m.Propose(round, mb, remaining)
		if !ok {
			subs[i] = mb
			floats.Add(values, cur)
			continue
		}
		for j := range remaining {
			if j < len(p.Values) {
				remaining[j] -= p.Values[j] - cur[j]
			}
		}
		subs[i] = p
		floats.Add(values, p.Values)
		moved = true
	}
	if !moved {
		return nil, false
	}
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.mu.Unlock()
	return &Proposal{ID: id, Round: round, Author: c.id, Values: values, Members: subs}, true
}

// Evaluate lets every member judge its new sub-proposal and checks the
// aggregate equals the member sum.
func (c *Container) Evaluate(p *Proposal) Verdict {
	if p == nil || p.Author != c.id || len(p.Members) != len(c.members) {
		return reject(ReasonForeign)
	}
	sum := make([]float64, c.horizon.Intervals)
	for i, m := range c.members {
		sub := p.Members[i]
		if sub == nil {
			floats.Add(sum, m.Baseline())
			continue
		}
		if sub.Round == p.Round {
			if v := m.Evaluate(sub); !v.Accept {
				return reject(m.ID() + ": " + v.Reason)
			}
		}
		if len(sub.Values) != len(sum) {
			return reject(ReasonMismatch)
		}
		floats.Add(sum, sub.Values)
	}
	if len(p.Values) != len(sum) {
		return reject(ReasonMismatch)
	}
	for i := range sum {
		if math.Abs(sum[i]-p.Values[i]) > schedule.Epsilon {
			return reject(ReasonMismatch)
		}
	}
	return accept()
}

// Commit forwards each member sub-proposal downwards.
func (c *Container) Commit(tx *schedule.Tx, p *Proposal) error {
	if p.Author != c.id {
		return fmt.Errorf("container %s cannot commit proposal of %s", c.id, p.Author)
	}
	for i, m := range c.members {
		if i >= len(p.Members) || p.Members[i] == nil {
			continue
		}
		if err := m.Commit(tx, p.Members[i]); err != nil {
			return fmt.Errorf("container %s: %w", c.id, err)
		}
	}
	return nil
}
