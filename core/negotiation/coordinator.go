package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

// Result is the archived outcome of one negotiation.
type Result struct {
	ID        string       `json:"id"`
	Status    Status       `json:"status"`
	Spec      target.Spec  `json:"spec"`
	Target    []float64    `json:"target"`
	Achieved  []float64    `json:"achieved"`
	Objective float64      `json:"objective"`
	Rounds    int          `json:"rounds"`
	Trace     []RoundTrace `json:"trace"`
	Committed bool         `json:"committed"`
	// Final maps each participant to the values now in the store.
	Final    map[string][]float64 `json:"final"`
	Topology []Topology           `json:"topology"`
	Duration time.Duration        `json:"-"`
}

// Coordinator runs single negotiations against a schedule store.
type Coordinator struct {
	store *schedule.Store
	pop   *Population
	opts  options
	log   logger.Logger
}

// NewCoordinator binds a coordinator to store and the participants of pop.
func NewCoordinator(store *schedule.Store, pop *Population, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{store: store, pop: pop, opts: o, log: o.log}
}

// Population returns the participants known to the coordinator.
func (c *Coordinator) Population() *Population { return c.pop }

// Run drives spec to a terminal status. Schedules are written only when the
// negotiation converges, in a single atomic transaction. Cancelling ctx
// only interrupts the wait for resources.
func (c *Coordinator) Run(ctx context.Context, spec target.Spec) (Result, error) {
	started := c.opts.clock()
	parts, err := c.pop.Resolve(spec.Participants...)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", spec.ID, err)
	}
	engine, err := NewEngine(spec, parts, WithLogger(c.log), WithBus(c.opts.bus), WithClock(c.opts.clock))
	if err != nil {
		return Result{}, err
	}
	resources, err := resourcesOf(parts)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", spec.ID, err)
	}

	lease, err := c.store.Acquire(ctx, spec.ID, resources...)
	if err != nil {
		return Result{}, fmt.Errorf("%s: acquire resources: %w", spec.ID, err)
	}
	defer lease.Release()
	wait := c.opts.clock().Sub(started)
	if lr, ok := c.opts.sink.(metrics.LeaseWaitRecorder); ok {
		if err := lr.RecordLeaseWait(metrics.LeaseWait{NegotiationID: spec.ID, Resources: len(resources), Wait: wait}); err != nil {
			c.log.Warnf("record lease wait: %v", err)
		}
	}
	c.log.Infof("negotiation %s started with %d participants over %d resources", spec.ID, len(parts), len(resources))

	out := engine.Run()
	res := Result{
		ID:        spec.ID,
		Status:    out.State.Status,
		Spec:      spec.Clone(),
		Target:    append([]float64(nil), spec.Values...),
		Objective: out.Objective,
		Rounds:    out.State.Round,
		Trace:     out.Trace,
	}
	if res.Status == StatusConverged && hasProposals(out.Latest) {
		if err := c.commit(lease, parts, out.Latest); err != nil {
			return Result{}, fmt.Errorf("%s: commit: %w", spec.ID, err)
		}
		res.Committed = true
		c.opts.publish(events.CommitEvent{NegotiationID: spec.ID, Resources: resources})
	}

	res.Final = make(map[string][]float64, len(parts))
	achieved := make([]float64, engine.horizon.Intervals)
	for _, p := range parts {
		v := p.Baseline()
		res.Final[p.ID()] = v
		for i := range achieved {
			achieved[i] += v[i]
		}
		res.Topology = append(res.Topology, Describe(p))
	}
	res.Achieved = achieved
	res.Duration = c.opts.clock().Sub(started)

	negotiationSeconds.WithLabelValues(string(res.Status)).Observe(res.Duration.Seconds())
	c.recordOutcome(res)
	c.opts.publish(events.OutcomeEvent{NegotiationID: spec.ID, Status: string(res.Status), Rounds: res.Rounds, Committed: res.Committed})
	c.log.Infof("negotiation %s finished: status=%s rounds=%d committed=%t", spec.ID, res.Status, res.Rounds, res.Committed)
	return res, nil
}

func (c *Coordinator) commit(lease *schedule.Lease, parts []Participant, latest []*Proposal) error {
	tx := lease.Begin()
	for i, p := range parts {
		if latest[i] == nil {
			continue
		}
		if err := p.Commit(tx, latest[i]); err != nil {
			return err
		}
	}
	return tx.Apply()
}

func (c *Coordinator) recordOutcome(res Result) {
	rec := metrics.OutcomeRecord{
		NegotiationID: res.ID,
		Status:        string(res.Status),
		Rounds:        res.Rounds,
		Participants:  len(res.Spec.Participants),
		Objective:     res.Objective,
		Committed:     res.Committed,
		Duration:      res.Duration,
		Time:          c.opts.clock(),
	}
	if err := c.opts.sink.RecordOutcome(rec); err != nil {
		c.log.Errorf("metrics record outcome: %v", err)
	}
}

func hasProposals(latest []*Proposal) bool {
	for _, p := range latest {
		if p != nil {
			return true
		}
	}
	return false
}
