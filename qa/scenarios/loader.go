// Package scenarios runs YAML described negotiation scenarios end to end.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

var scenarioStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ResourceDef declares a resource and the agent driving it. A single
// element in Values, Min or Max applies to every interval.
type ResourceDef struct {
	ID     string    `yaml:"id"`
	Values []float64 `yaml:"values"`
	Min    []float64 `yaml:"min"`
	Max    []float64 `yaml:"max"`
}

type ContainerDef struct {
	ID      string   `yaml:"id"`
	Members []string `yaml:"members"`
}

type NegotiationDef struct {
	ID             string    `yaml:"id"`
	Target         []float64 `yaml:"target"`
	Weights        []float64 `yaml:"weights,omitempty"`
	Participants   []string  `yaml:"participants"`
	Strategy       string    `yaml:"strategy,omitempty"`
	Tolerance      *float64  `yaml:"tolerance,omitempty"`
	DeadlineRounds int       `yaml:"deadline_rounds,omitempty"`
}

// Expected is the outcome asserted for one negotiation.
type Expected struct {
	Status    string    `yaml:"status"`
	Committed bool      `yaml:"committed"`
	Achieved  []float64 `yaml:"achieved,omitempty"`
	Rounds    *int      `yaml:"rounds,omitempty"`
	MaxRounds int       `yaml:"max_rounds,omitempty"`
}

type Scenario struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description,omitempty"`
	Intervals    int                 `yaml:"intervals"`
	Resources    []ResourceDef       `yaml:"resources"`
	Containers   []ContainerDef      `yaml:"containers,omitempty"`
	Negotiations []NegotiationDef    `yaml:"negotiations"`
	Expected     map[string]Expected `yaml:"expected"`
	// StoreUnchanged asserts that no resource was modified by the run.
	StoreUnchanged bool `yaml:"store_unchanged,omitempty"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Intervals <= 0 {
		sc.Intervals = 1
	}
	return &sc, nil
}

func (sc *Scenario) horizon() schedule.Horizon {
	return schedule.Horizon{Start: scenarioStart, Step: 15 * time.Minute, Intervals: sc.Intervals}
}

func (r ResourceDef) entry(h schedule.Horizon) (schedule.Entry, error) {
	values, err := broadcast(r.Values, h.Intervals, 0)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%s values: %w", r.ID, err)
	}
	lo, err := broadcast(r.Min, h.Intervals, 0)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%s min: %w", r.ID, err)
	}
	hi, err := broadcast(r.Max, h.Intervals, 0)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%s max: %w", r.ID, err)
	}
	sch, err := schedule.New(h, values)
	if err != nil {
		return schedule.Entry{}, err
	}
	return schedule.Entry{ID: r.ID, Schedule: sch, Envelope: schedule.Envelope{Min: lo, Max: hi}}, nil
}

func (n NegotiationDef) spec(intervals int) (target.Spec, error) {
	values, err := broadcast(n.Target, intervals, 0)
	if err != nil {
		return target.Spec{}, fmt.Errorf("%s target: %w", n.ID, err)
	}
	var weights []float64
	if n.Weights != nil {
		if weights, err = broadcast(n.Weights, intervals, 1); err != nil {
			return target.Spec{}, fmt.Errorf("%s weights: %w", n.ID, err)
		}
	}
	s := target.Spec{
		ID:           n.ID,
		Values:       values,
		Weights:      weights,
		Participants: n.Participants,
		Deadline:     target.Deadline{Rounds: n.DeadlineRounds},
		Tolerance:    1e-6,
		Strategy:     target.Strategy(n.Strategy),
	}
	if n.Tolerance != nil {
		s.Tolerance = *n.Tolerance
	}
	if s.Strategy == "" {
		s.Strategy = target.StrategyShare
	}
	if s.Deadline.Rounds == 0 {
		s.Deadline.Rounds = 10
	}
	return s, s.Validate(intervals)
}

func broadcast(v []float64, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	switch len(v) {
	case 0:
		for i := range out {
			out[i] = def
		}
	case 1:
		for i := range out {
			out[i] = v[0]
		}
	case n:
		copy(out, v)
	default:
		return nil, fmt.Errorf("%d values for %d intervals", len(v), n)
	}
	return out, nil
}
