package negotiation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(n int) *schedule.Store {
	return schedule.NewStore(schedule.Horizon{Start: t0, Step: 15 * time.Minute, Intervals: n})
}

func addResource(t *testing.T, s *schedule.Store, id string, initial []float64, lo, hi float64) {
	t.Helper()
	sch, err := schedule.New(s.Horizon(), initial)
	require.NoError(t, err)
	require.NoError(t, s.Add(schedule.Entry{ID: id, Schedule: sch, Envelope: schedule.Constant(len(initial), lo, hi)}))
}

func newSpec(id string, values []float64, participants ...string) target.Spec {
	return target.Spec{
		ID:           id,
		Values:       values,
		Participants: participants,
		Deadline:     target.Deadline{Rounds: 10},
		Tolerance:    1e-6,
		Strategy:     target.StrategyShare,
	}
}

// agents registers one agent per id, each with a single-interval schedule
// starting at zero.
func agents(t *testing.T, s *schedule.Store, pop *Population, hi float64, ids ...string) {
	t.Helper()
	for _, id := range ids {
		addResource(t, s, id, make([]float64, s.Horizon().Intervals), 0, hi)
		_, err := pop.AddAgent(id)
		require.NoError(t, err)
	}
}

func committed(t *testing.T, s *schedule.Store, id string) []float64 {
	t.Helper()
	sch, err := s.Committed(id)
	require.NoError(t, err)
	return sch.Values
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}
