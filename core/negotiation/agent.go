package negotiation

import (
	"fmt"
	"math"
	"sync"

	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/schedule"
)

// Agent negotiates on behalf of one resource of the schedule store. It
// keeps no negotiation state besides its proposal counter.
type Agent struct {
	id    string
	store *schedule.Store
	env   schedule.Envelope
	log   logger.Logger

	mu       sync.Mutex
	seq      uint64
	lastSeen uint64
}

// NewAgent wraps the store entry id. Only WithLogger applies to agents.
func NewAgent(id string, store *schedule.Store, opts ...Option) (*Agent, error) {
	env, err := store.Envelope(id)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Agent{id: id, store: store, env: env, log: o.log}, nil
}

func (a *Agent) ID() string                  { return a.id }
func (a *Agent) Horizon() schedule.Horizon   { return a.store.Horizon() }
func (a *Agent) Resources() []string         { return []string{a.id} }
func (a *Agent) Envelope() schedule.Envelope { return a.env.Clone() }

// Baseline returns the committed values of the resource. A failed store
// read is logged and yields zeros.
func (a *Agent) Baseline() []float64 {
	s, err := a.store.Committed(a.id)
	if err != nil {
		a.log.Errorf("agent %s: baseline read failed, using zeros: %v", a.id, err)
		return make([]float64, a.store.Horizon().Intervals)
	}
	return s.Values
}

// Committed returns the committed schedule.
func (a *Agent) Committed() (schedule.Schedule, error) {
	return a.store.Committed(a.id)
}

// Propose shifts every interval by delta, clamped into the envelope.
func (a *Agent) Propose(round int, base *Proposal, delta []float64) (*Proposal, bool) {
	cur := valuesOf(a, base)
	next := make([]float64, len(cur))
	moved := false
	for i, v := range cur {
		next[i] = v
		if i >= len(delta) || delta[i] == 0 {
			continue
		}
		nv := a.env.Clamp(i, v+delta[i])
		if math.Abs(nv-v) > schedule.Epsilon {
			next[i] = nv
			moved = true
		}
	}
	if !moved {
		return nil, false
	}
	a.mu.Lock()
	a.seq++
	id := a.seq
	a.mu.Unlock()
	return &Proposal{ID: id, Round: round, Author: a.id, Values: next}, true
}

// Evaluate accepts own, fresh proposals that stay inside the envelope.
func (a *Agent) Evaluate(p *Proposal) Verdict {
	if p == nil || p.Author != a.id {
		return reject(ReasonForeign)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.ID <= a.lastSeen || p.ID > a.seq {
		return reject(ReasonStale)
	}
	a.lastSeen = p.ID
	if !a.env.Contains(p.Values) {
		return reject(ReasonEnvelope)
	}
	return accept()
}

// Commit stages the proposal in tx.
func (a *Agent) Commit(tx *schedule.Tx, p *Proposal) error {
	if p.Author != a.id {
		return fmt.Errorf("agent %s cannot commit proposal of %s", a.id, p.Author)
	}
	return tx.Stage(a.id, p.Values)
}
