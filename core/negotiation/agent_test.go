package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dernego/core/schedule"
)

func TestNewAgentUnknownResource(t *testing.T) {
	_, err := NewAgent("ghost", newStore(1))
	assert.True(t, errors.Is(err, schedule.ErrUnknownResource))
}

func TestAgentProposeClampsToEnvelope(t *testing.T) {
	s := newStore(2)
	addResource(t, s, "a", []float64{2, 2}, 0, 5)
	a, err := NewAgent("a", s)
	require.NoError(t, err)

	p, ok := a.Propose(1, nil, []float64{10, -1})
	require.True(t, ok)
	assert.Equal(t, []float64{5, 1}, p.Values)
	assert.Equal(t, "a", p.Author)
	assert.Equal(t, []float64{2, 2}, committed(t, s, "a"), "propose must not mutate the store")

	// from the clamped base nothing can move upwards any more
	_, ok = a.Propose(2, &Proposal{Values: []float64{5, 5}}, []float64{3, 3})
	assert.False(t, ok)
}

func TestAgentProposalIDsIncrease(t *testing.T) {
	s := newStore(1)
	addResource(t, s, "a", []float64{0}, 0, 10)
	a, _ := NewAgent("a", s)
	p1, _ := a.Propose(1, nil, []float64{1})
	p2, _ := a.Propose(2, p1, []float64{1})
	assert.Greater(t, p2.ID, p1.ID)
}

func TestAgentEvaluate(t *testing.T) {
	s := newStore(1)
	addResource(t, s, "a", []float64{0}, 0, 10)
	a, _ := NewAgent("a", s)

	p, _ := a.Propose(1, nil, []float64{4})
	assert.True(t, a.Evaluate(p).Accept)
	assert.Equal(t, ReasonStale, a.Evaluate(p).Reason, "a proposal is evaluated once")

	p2, _ := a.Propose(2, p, []float64{1})
	foreign := *p2
	foreign.Author = "b"
	assert.Equal(t, ReasonForeign, a.Evaluate(&foreign).Reason)

	p2.Values = []float64{11}
	assert.Equal(t, ReasonEnvelope, a.Evaluate(p2).Reason)
}

func TestAgentCommitStagesOwnValues(t *testing.T) {
	s := newStore(1)
	addResource(t, s, "a", []float64{0}, 0, 10)
	a, _ := NewAgent("a", s)
	p, _ := a.Propose(1, nil, []float64{3})

	lease, err := s.Acquire(context.Background(), "n", "a")
	require.NoError(t, err)
	defer lease.Release()
	tx := lease.Begin()
	require.NoError(t, a.Commit(tx, p))
	assert.Error(t, a.Commit(tx, &Proposal{Author: "b", Values: []float64{1}}))
	require.NoError(t, tx.Apply())
	assert.Equal(t, []float64{3}, committed(t, s, "a"))
}

type errorLogger struct {
	nopLogger
	mu     sync.Mutex
	logged []string
}

func (l *errorLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logged = append(l.logged, fmt.Sprintf(format, args...))
}

func TestAgentBaselineLogsStoreFailure(t *testing.T) {
	s := newStore(2)
	addResource(t, s, "a", []float64{1, 2}, 0, 5)
	log := &errorLogger{}
	a, err := NewAgent("a", s, WithLogger(log))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, a.Baseline())
	assert.Empty(t, log.logged)

	// an agent whose entry is missing from the store it reads
	a.store = newStore(2)
	assert.Equal(t, []float64{0, 0}, a.Baseline())
	require.Len(t, log.logged, 1)
	assert.Contains(t, log.logged[0], "agent a")
	assert.Contains(t, log.logged[0], schedule.ErrUnknownResource.Error())

	_, err = a.Committed()
	assert.ErrorIs(t, err, schedule.ErrUnknownResource)
}

func TestPopulationHandsLoggerToAgents(t *testing.T) {
	s := newStore(1)
	addResource(t, s, "a", []float64{0}, 0, 5)
	log := &errorLogger{}
	a, err := NewPopulation(s, WithLogger(log)).AddAgent("a")
	require.NoError(t, err)
	assert.Same(t, log, a.log)
}
