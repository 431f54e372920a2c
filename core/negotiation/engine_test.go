package negotiation

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
	"github.com/kilianp07/dernego/internal/eventbus"
)

func runEngine(t *testing.T, pop *Population, spec target.Spec, opts ...Option) Outcome {
	t.Helper()
	parts, err := pop.Resolve(spec.Participants...)
	require.NoError(t, err)
	e, err := NewEngine(spec, parts, opts...)
	require.NoError(t, err)
	return e.Run()
}

func TestEngineRejectsEmptySetup(t *testing.T) {
	_, err := NewEngine(newSpec("n", []float64{1}), nil)
	assert.True(t, errors.Is(err, ErrNoParticipants))

	s := newStore(2)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a")
	parts, _ := pop.Resolve("a")
	_, err = NewEngine(newSpec("n", []float64{1}, "a"), parts)
	assert.Error(t, err, "target length must match horizon")
}

func TestEngineConvergesInRoundZero(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	addResource(t, s, "a", []float64{4}, 0, 10)
	_, err := pop.AddAgent("a")
	require.NoError(t, err)

	out := runEngine(t, pop, newSpec("n", []float64{4}, "a"))
	assert.Equal(t, StatusConverged, out.State.Status)
	assert.Equal(t, 0, out.State.Round)
	assert.Empty(t, out.Trace)
	assert.Empty(t, out.State.Latest)
}

func TestEngineShareStrategyConverges(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a", "b", "c")

	out := runEngine(t, pop, newSpec("n", []float64{25}, "a", "b", "c"))
	require.Equal(t, StatusConverged, out.State.Status)
	assert.Equal(t, 1, out.State.Round)
	total := 0.0
	for _, v := range out.Values {
		assert.LessOrEqual(t, v[0], 10.0)
		total += v[0]
	}
	assert.InDelta(t, 25, total, 1e-6)
	require.Len(t, out.Trace, 1)
	assert.Equal(t, 3, out.Trace[0].Accepted())
}

func TestEngineStagnationIsInfeasible(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 5, "a")
	spec := newSpec("n", []float64{20}, "a")
	spec.Deadline.Rounds = 3

	out := runEngine(t, pop, spec)
	assert.Equal(t, StatusInfeasible, out.State.Status)
	assert.Equal(t, 2, out.State.Round)
	require.Len(t, out.Trace, 2)
	assert.True(t, out.Trace[0].Improved)
	assert.False(t, out.Trace[1].Improved)
	assert.Equal(t, []string{"a"}, out.Trace[1].Idle)
}

func TestEngineRoundDeadline(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 1, "small")
	agents(t, s, pop, 100, "big")
	spec := newSpec("n", []float64{50}, "small", "big")
	spec.Deadline.Rounds = 1

	out := runEngine(t, pop, spec)
	assert.Equal(t, StatusDeadlineExceeded, out.State.Status)
	assert.Equal(t, 1, out.State.Round)
	assert.InDelta(t, 24, out.State.Delta[0], 1e-9)
}

func TestEngineTimeoutDeadline(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 1, "small")
	agents(t, s, pop, 100, "big")
	spec := newSpec("n", []float64{50}, "small", "big")
	spec.Deadline = target.Deadline{Timeout: time.Second}

	clock := &stepClock{now: t0, step: time.Second}
	out := runEngine(t, pop, spec, WithClock(clock.Now))
	assert.Equal(t, StatusDeadlineExceeded, out.State.Status)
	assert.Equal(t, 1, out.State.Round)
}

func TestEngineShareSkipsSaturatedParticipants(t *testing.T) {
	for _, strategy := range []target.Strategy{target.StrategyShare, target.StrategyGreedy} {
		t.Run(string(strategy), func(t *testing.T) {
			s := newStore(1)
			pop := NewPopulation(s)
			agents(t, s, pop, 1, "small")
			agents(t, s, pop, 100, "big")
			spec := newSpec("n", []float64{50}, "small", "big")
			spec.Strategy = strategy

			out := runEngine(t, pop, spec)
			require.Equal(t, StatusConverged, out.State.Status)
			assert.LessOrEqual(t, out.State.Round, 2)
			assert.InDelta(t, 50, out.Values[0][0]+out.Values[1][0], 1e-6)
		})
	}
}

func TestEngineShareOffer(t *testing.T) {
	e := &Engine{spec: target.Spec{Strategy: target.StrategyShare}}
	envs := []schedule.Envelope{schedule.Constant(2, 0, 1), schedule.Constant(2, 0, 100), schedule.Constant(2, 0, 100)}
	current := [][]float64{{1, 1}, {0, 0}, {100, 0}}
	// Only one participant can move on each interval.
	offer := e.offer([]float64{30, -6}, current, envs)
	assert.InDelta(t, 30, offer[0], 1e-12)
	assert.InDelta(t, -6, offer[1], 1e-12)

	current = [][]float64{{0, 1}, {0, 50}, {0, 50}}
	offer = e.offer([]float64{30, -6}, current, envs)
	assert.InDelta(t, 10, offer[0], 1e-12)
	assert.InDelta(t, -2, offer[1], 1e-12)
}

func TestEngineTieBreakFollowsRegistrationOrder(t *testing.T) {
	for _, order := range [][]string{{"a", "b"}, {"b", "a"}} {
		s := newStore(1)
		pop := NewPopulation(s)
		agents(t, s, pop, 10, "a", "b")
		spec := newSpec("n", []float64{5}, order...)
		spec.Strategy = target.StrategyGreedy

		out := runEngine(t, pop, spec)
		require.Equal(t, StatusConverged, out.State.Status)
		assert.Equal(t, []float64{5}, out.Values[0], "first registered participant wins")
		assert.Equal(t, []float64{0}, out.Values[1])
		rejected := out.Trace[0].Proposals[1]
		assert.False(t, rejected.Accepted)
		assert.Equal(t, ReasonNoImprovement, rejected.Reason)
	}
}

func TestEngineIgnoresZeroWeightIntervals(t *testing.T) {
	s := newStore(2)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a")
	spec := newSpec("n", []float64{5, 100}, "a")
	spec.Weights = []float64{1, 0}

	out := runEngine(t, pop, spec)
	require.Equal(t, StatusConverged, out.State.Status)
	assert.Equal(t, []float64{5, 0}, out.Values[0])
}

// spy records the delta it is offered each round.
type spy struct {
	Participant
	mu     sync.Mutex
	offers map[int][]float64
}

func (s *spy) Propose(round int, base *Proposal, delta []float64) (*Proposal, bool) {
	s.mu.Lock()
	if s.offers == nil {
		s.offers = make(map[int][]float64)
	}
	s.offers[round] = append([]float64(nil), delta...)
	s.mu.Unlock()
	return s.Participant.Propose(round, base, delta)
}

func TestEngineProposalsSeeRoundStartState(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 1, "a", "b")
	agents(t, s, pop, 100, "c")
	pa, _ := pop.Get("a")
	pb, _ := pop.Get("b")
	pc, _ := pop.Get("c")
	spies := []*spy{{Participant: pa}, {Participant: pb}, {Participant: pc}}
	parts := []Participant{spies[0], spies[1], spies[2]}

	e, err := NewEngine(newSpec("n", []float64{30}, "a", "b", "c"), parts)
	require.NoError(t, err)
	out := e.Run()
	require.NotEmpty(t, out.Trace)
	for round := 1; round <= out.State.Round; round++ {
		for _, sp := range spies[1:] {
			assert.Equal(t, spies[0].offers[round], sp.offers[round], "round %d offers differ", round)
		}
	}
}

// rogue ignores its envelope when proposing.
type rogue struct {
	*Agent
}

func (r rogue) Propose(round int, base *Proposal, delta []float64) (*Proposal, bool) {
	p, ok := r.Agent.Propose(round, base, delta)
	if !ok {
		return nil, false
	}
	for i := range p.Values {
		p.Values[i] += 1000
	}
	return p, true
}

func TestEngineRejectsEnvelopeViolations(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a")
	a, _ := pop.Get("a")

	e, err := NewEngine(newSpec("n", []float64{5}, "a"), []Participant{rogue{a.(*Agent)}})
	require.NoError(t, err)
	out := e.Run()
	assert.Equal(t, StatusInfeasible, out.State.Status)
	require.Len(t, out.Trace[0].Proposals, 1)
	assert.Equal(t, ReasonEnvelope, out.Trace[0].Proposals[0].Reason)
}

type panicky struct{ *Agent }

func (panicky) Propose(int, *Proposal, []float64) (*Proposal, bool) { panic("broken unit") }

func TestEngineSurvivesPanickingParticipant(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a", "b")
	a, _ := pop.Get("a")
	b, _ := pop.Get("b")

	spec := newSpec("n", []float64{8}, "a", "b")
	spec.Strategy = target.StrategyGreedy
	e, err := NewEngine(spec, []Participant{panicky{a.(*Agent)}, b})
	require.NoError(t, err)
	out := e.Run()
	assert.Equal(t, StatusConverged, out.State.Status)
	assert.Equal(t, []float64{8}, out.Values[1])
}

func TestEnginePublishesRoundEvents(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 5, "a")
	bus := eventbus.New[events.Event]()
	sub := bus.Subscribe()

	out := runEngine(t, pop, newSpec("n", []float64{20}, "a"), WithBus(bus))
	require.Equal(t, StatusInfeasible, out.State.Status)
	ev := (<-sub).(events.RoundEvent)
	assert.Equal(t, "n", ev.NegotiationID)
	assert.Equal(t, 1, ev.Round)
	assert.Equal(t, 1, ev.Accepted)
	assert.InDelta(t, 15, ev.MaxAbsDelta, 1e-9)
}

func TestEngineObjectiveNeverIncreases(t *testing.T) {
	s := newStore(4)
	pop := NewPopulation(s)
	for i, id := range []string{"a", "b", "c", "d"} {
		addResource(t, s, id, []float64{0, 0, 0, 0}, -float64(i+1), float64(3*(i+1)))
		_, err := pop.AddAgent(id)
		require.NoError(t, err)
	}
	spec := newSpec("n", []float64{12, -7, 25, 3}, "a", "b", "c", "d")
	spec.Weights = []float64{1, 2, 0.5, 1}

	out := runEngine(t, pop, spec)
	prev := math.Inf(1)
	for _, rt := range out.Trace {
		assert.LessOrEqual(t, rt.Objective, prev)
		prev = rt.Objective
	}
	for i, id := range []string{"a", "b", "c", "d"} {
		env, _ := s.Envelope(id)
		assert.True(t, env.Contains(out.Values[i]), "%s left its envelope", id)
	}
	if out.State.Status == StatusConverged {
		for i, d := range out.State.Delta {
			assert.LessOrEqual(t, math.Abs(d), spec.Tolerance, "interval %d", i)
		}
	}
}

var _ Participant = (*Agent)(nil)
var _ Participant = (*Container)(nil)
