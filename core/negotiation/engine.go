package negotiation

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/monitoring"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

// Engine runs the round based protocol for one target over a fixed set of
// participants. It never writes to the schedule store.
type Engine struct {
	spec         target.Spec
	participants []Participant
	horizon      schedule.Horizon
	opts         options
	log          logger.Logger
}

// Outcome is the terminal state of an engine run.
type Outcome struct {
	State     State
	Trace     []RoundTrace
	Objective float64
	// Latest holds the last accepted proposal per participant, by index.
	Latest []*Proposal
	// Values holds the tentative values per participant, by index.
	Values [][]float64
}

// NewEngine validates the setup. Participants keep their given order, which
// is the tie-break order of the protocol.
func NewEngine(spec target.Spec, participants []Participant, opts ...Option) (*Engine, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("%s: %w", spec.ID, ErrNoParticipants)
	}
	h := participants[0].Horizon()
	for _, p := range participants[1:] {
		if !p.Horizon().Equal(h) {
			return nil, fmt.Errorf("%s: participant %s uses another horizon", spec.ID, p.ID())
		}
	}
	if err := spec.Validate(h.Intervals); err != nil {
		return nil, err
	}
	if _, err := resourcesOf(participants); err != nil {
		return nil, fmt.Errorf("%s: %w", spec.ID, err)
	}
	o := buildOptions(opts)
	return &Engine{
		spec:         spec.Clone(),
		participants: append([]Participant(nil), participants...),
		horizon:      h,
		opts:         o,
		log:          logger.With(o.log, map[string]any{"negotiation": spec.ID}),
	}, nil
}

// Run negotiates until a terminal status is reached. Baselines are read
// once at the start; the caller must hold the participants' resources.
func (e *Engine) Run() Outcome {
	n := len(e.participants)
	ids := make([]string, n)
	current := make([][]float64, n)
	envs := make([]schedule.Envelope, n)
	for i, p := range e.participants {
		ids[i] = p.ID()
		current[i] = p.Baseline()
		envs[i] = p.Envelope()
	}
	latest := make([]*Proposal, n)
	st := State{Participants: ids, Latest: make(map[string]*Proposal), Status: StatusInProgress}

	sum := e.sum(current)
	delta := e.delta(sum)
	objective := e.objective(delta)
	st.Delta = delta

	var trace []RoundTrace
	if e.converged(delta) {
		st.Status = StatusConverged
		e.log.Infof("target met by committed schedules, converged in round 0")
		return Outcome{State: st, Objective: objective, Latest: latest, Values: current}
	}

	start := e.opts.clock()
	for round := 1; ; round++ {
		st.Round = round
		proposals := e.collect(round, latest, e.offer(delta, current, envs))

		rt := RoundTrace{Round: round, Requested: n}
		accepted := 0
		for i, p := range proposals {
			pt := e.participants[i]
			if p == nil {
				rt.Idle = append(rt.Idle, pt.ID())
				continue
			}
			tr := ProposalTrace{ID: p.ID, Author: p.Author, Values: append([]float64(nil), p.Values...)}
			if v := pt.Evaluate(p); !v.Accept {
				tr.Reason = v.Reason
				rt.Proposals = append(rt.Proposals, tr)
				proposalsEvaluated.WithLabelValues("rejected").Inc()
				continue
			}
			cand := make([]float64, len(sum))
			floats.SubTo(cand, p.Values, current[i])
			floats.Add(cand, sum)
			cdelta := e.delta(cand)
			if cobj := e.objective(cdelta); objective-cobj > schedule.Epsilon {
				current[i] = p.Values
				latest[i] = p
				st.Latest[pt.ID()] = p
				sum, delta, objective = cand, cdelta, cobj
				tr.Accepted = true
				accepted++
				proposalsEvaluated.WithLabelValues("accepted").Inc()
			} else {
				tr.Reason = ReasonNoImprovement
				proposalsEvaluated.WithLabelValues("no_improvement").Inc()
			}
			rt.Proposals = append(rt.Proposals, tr)
		}
		rt.Delta = append([]float64(nil), delta...)
		rt.Objective = objective
		rt.Improved = accepted > 0
		trace = append(trace, rt)
		st.Delta = delta
		roundsTotal.Inc()

		e.log.Debugw("round evaluated", map[string]any{
			"round":     round,
			"proposals": len(rt.Proposals),
			"accepted":  accepted,
			"objective": objective,
		})
		e.opts.publish(events.RoundEvent{
			NegotiationID: e.spec.ID,
			Round:         round,
			Proposals:     len(rt.Proposals),
			Accepted:      accepted,
			Objective:     objective,
			MaxAbsDelta:   maxAbs(delta),
		})

		switch {
		case e.converged(delta):
			st.Status = StatusConverged
		case accepted == 0:
			st.Status = StatusInfeasible
		case e.deadlineReached(round, start):
			st.Status = StatusDeadlineExceeded
		}
		if st.Status.Terminal() {
			e.log.Infof("terminal status %s after %d rounds, objective %.6g", st.Status, round, objective)
			return Outcome{State: st, Trace: trace, Objective: objective, Latest: latest, Values: current}
		}
	}
}

// collect asks every participant for a proposal against the same round
// start state. Results are buffered by registration index.
func (e *Engine) collect(round int, latest []*Proposal, offer []float64) []*Proposal {
	out := make([]*Proposal, len(e.participants))
	var wg sync.WaitGroup
	for i, p := range e.participants {
		wg.Add(1)
		go func(i int, p Participant) {
			defer wg.Done()
			err := monitoring.Guard(map[string]string{"negotiation": e.spec.ID, "participant": p.ID()}, func() error {
				prop, ok := p.Propose(round, latest[i], append([]float64(nil), offer...))
				if ok {
					out[i] = prop
				}
				return nil
			})
			if err != nil {
				e.log.Errorf("participant %s failed to propose: %v", p.ID(), err)
			}
		}(i, p)
	}
	wg.Wait()
	return out
}

// offer is the move asked from every participant. Under the share strategy
// the delta of each interval is split among the participants that can still
// move towards it; a participant at its envelope bound takes no share.
func (e *Engine) offer(delta []float64, current [][]float64, envs []schedule.Envelope) []float64 {
	out := append([]float64(nil), delta...)
	if e.spec.Strategy != target.StrategyShare {
		return out
	}
	for j, d := range out {
		movable := 0
		for i := range current {
			if canMove(envs[i], j, current[i][j], d) {
				movable++
			}
		}
		if movable > 1 {
			out[j] = d / float64(movable)
		}
	}
	return out
}

// canMove reports whether v can move in the direction of d on interval i.
func canMove(env schedule.Envelope, i int, v, d float64) bool {
	switch {
	case d > 0:
		return env.Max[i]-v > schedule.Epsilon
	case d < 0:
		return v-env.Min[i] > schedule.Epsilon
	}
	return false
}

func (e *Engine) sum(values [][]float64) []float64 {
	out := make([]float64, e.horizon.Intervals)
	for _, v := range values {
		floats.Add(out, v)
	}
	return out
}

// delta is target minus sum on intervals of interest and zero elsewhere.
func (e *Engine) delta(sum []float64) []float64 {
	out := make([]float64, len(sum))
	for i := range sum {
		if e.spec.OfInterest(i) {
			out[i] = e.spec.Values[i] - sum[i]
		}
	}
	return out
}

func (e *Engine) objective(delta []float64) float64 {
	total := 0.0
	for i, d := range delta {
		total += e.spec.Weight(i) * math.Abs(d)
	}
	return total
}

func (e *Engine) converged(delta []float64) bool {
	for i, d := range delta {
		if e.spec.OfInterest(i) && math.Abs(d) > e.spec.Tolerance {
			return false
		}
	}
	return true
}

func (e *Engine) deadlineReached(round int, start time.Time) bool {
	if e.spec.Deadline.Rounds > 0 && round >= e.spec.Deadline.Rounds {
		return true
	}
	return e.spec.Deadline.Timeout > 0 && e.opts.clock().Sub(start) >= e.spec.Deadline.Timeout
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
