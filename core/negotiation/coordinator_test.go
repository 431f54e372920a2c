package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/internal/eventbus"
)

type outcomeSink struct {
	records []metrics.OutcomeRecord
	waits   []metrics.LeaseWait
}

func (s *outcomeSink) RecordOutcome(r metrics.OutcomeRecord) error {
	s.records = append(s.records, r)
	return nil
}

func (s *outcomeSink) RecordLeaseWait(w metrics.LeaseWait) error {
	s.waits = append(s.waits, w)
	return nil
}

func TestCoordinatorCommitsOnConvergence(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a", "b", "c")
	sink := &outcomeSink{}
	bus := eventbus.New[events.Event]()
	sub := bus.Subscribe()
	coord := NewCoordinator(s, pop, WithSink(sink), WithBus(bus))

	res, err := coord.Run(context.Background(), newSpec("n1", []float64{25}, "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.True(t, res.Committed)
	assert.InDelta(t, 25, res.Achieved[0], 1e-6)

	total := 0.0
	for _, id := range []string{"a", "b", "c"} {
		v := committed(t, s, id)[0]
		assert.LessOrEqual(t, v, 10.0)
		assert.Equal(t, res.Final[id][0], v)
		total += v
	}
	assert.InDelta(t, 25, total, 1e-6)
	assert.Empty(t, s.Holders(), "lease released")

	require.Len(t, sink.records, 1)
	assert.Equal(t, "converged", sink.records[0].Status)
	require.Len(t, sink.waits, 1)
	assert.Equal(t, 3, sink.waits[0].Resources)

	var kinds []string
	for len(sub) > 0 {
		switch (<-sub).(type) {
		case events.RoundEvent:
			kinds = append(kinds, "round")
		case events.CommitEvent:
			kinds = append(kinds, "commit")
		case events.OutcomeEvent:
			kinds = append(kinds, "outcome")
		}
	}
	assert.Equal(t, []string{"round", "commit", "outcome"}, kinds)
}

func TestCoordinatorLeavesStoreOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		setup  func(t *testing.T, pop *Population)
		spec   func() (string, []float64, []string, int)
	}{
		{
			name:   "infeasible",
			status: StatusInfeasible,
			setup: func(t *testing.T, pop *Population) {
				agents(t, pop.store, pop, 5, "a")
			},
			spec: func() (string, []float64, []string, int) { return "n", []float64{20}, []string{"a"}, 3 },
		},
		{
			name:   "deadline",
			status: StatusDeadlineExceeded,
			setup: func(t *testing.T, pop *Population) {
				agents(t, pop.store, pop, 1, "small")
				agents(t, pop.store, pop, 100, "big")
			},
			spec: func() (string, []float64, []string, int) {
				return "n", []float64{50}, []string{"small", "big"}, 1
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(1)
			pop := NewPopulation(s)
			tt.setup(t, pop)
			before := s.Snapshot()

			id, values, parts, rounds := tt.spec()
			spec := newSpec(id, values, parts...)
			spec.Deadline.Rounds = rounds
			res, err := NewCoordinator(s, pop).Run(context.Background(), spec)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.False(t, res.Committed)
			assert.Equal(t, before, s.Snapshot(), "store must stay at its pre-negotiation state")
			assert.NotEmpty(t, res.Trace)
			for _, id := range parts {
				e, _ := s.Get(id)
				assert.Zero(t, e.Revision)
			}
		})
	}
}

func TestCoordinatorContainerScenario(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a", "b")
	c, err := pop.AddContainer("pool", "a", "b")
	require.NoError(t, err)

	res, err := NewCoordinator(s, pop).Run(context.Background(), newSpec("n", []float64{18}, "pool"))
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)
	assert.InDelta(t, 18, c.Aggregate().Values[0], 1e-6)
	a, b := committed(t, s, "a")[0], committed(t, s, "b")[0]
	assert.InDelta(t, 18, a+b, 1e-6)
	assert.True(t, a >= 0 && a <= 10 && b >= 0 && b <= 10)
	require.Len(t, res.Topology, 1)
	assert.Equal(t, "container", res.Topology[0].Kind)
}

func TestCoordinatorUnknownParticipant(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	_, err := NewCoordinator(s, pop).Run(context.Background(), newSpec("n", []float64{1}, "ghost"))
	assert.True(t, errors.Is(err, ErrUnknownParticipant))
}

func TestCoordinatorHonoursContextWhileWaiting(t *testing.T) {
	s := newStore(1)
	pop := NewPopulation(s)
	agents(t, s, pop, 10, "a")
	held, err := s.Acquire(context.Background(), "other", "a")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = NewCoordinator(s, pop).Run(ctx, newSpec("n", []float64{5}, "a"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []float64{0}, committed(t, s, "a"))
}

func TestCoordinatorTraceIsDeterministic(t *testing.T) {
	run := func() []byte {
		s := newStore(3)
		pop := NewPopulation(s)
		for i, id := range []string{"a", "b", "c"} {
			addResource(t, s, id, []float64{0, 1, 2}, -2, float64(4+i))
			_, err := pop.AddAgent(id)
			require.NoError(t, err)
		}
		_, err := pop.AddContainer("ab", "a", "b")
		require.NoError(t, err)
		res, err := NewCoordinator(s, pop).Run(context.Background(), newSpec("n", []float64{9, -3, 11}, "ab", "c"))
		require.NoError(t, err)
		out, err := json.Marshal(struct {
			Status Status
			Trace  []RoundTrace
			Final  map[string][]float64
		}{res.Status, res.Trace, res.Final})
		require.NoError(t, err)
		return out
	}
	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(run()))
	}
}
