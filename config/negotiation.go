package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

// DefaultsConfig holds the values applied to negotiations that leave a
// setting unset.
type DefaultsConfig struct {
	Tolerance      float64       `json:"tolerance"`
	Strategy       string        `json:"strategy"`
	DeadlineRounds int           `json:"deadline_rounds"`
	Timeout        time.Duration `json:"timeout"`
}

// SetDefaults applies sane defaults.
func (d *DefaultsConfig) SetDefaults() {
	if d.Tolerance <= 0 {
		d.Tolerance = 1e-6
	}
	if d.Strategy == "" {
		d.Strategy = string(target.StrategyShare)
	}
	if d.DeadlineRounds <= 0 {
		d.DeadlineRounds = 10
	}
}

// NegotiationConfig declares one negotiation. The target is either given
// inline, a single value applying to every interval, or read from
// TargetFile together with its weights.
type NegotiationConfig struct {
	ID             string        `json:"id"`
	Target         []float64     `json:"target"`
	TargetFile     string        `json:"target_file"`
	Weights        []float64     `json:"weights"`
	Participants   []string      `json:"participants"`
	Tolerance      *float64      `json:"tolerance"`
	Strategy       string        `json:"strategy"`
	DeadlineRounds int           `json:"deadline_rounds"`
	Timeout        time.Duration `json:"timeout"`
}

// Specs builds and validates the negotiation specs on horizon h.
func (c *Config) Specs(h schedule.Horizon) ([]target.Spec, error) {
	if len(c.Negotiations) == 0 {
		return nil, fmt.Errorf("%w: no negotiations declared", ErrConfig)
	}
	reg := target.NewRegistry()
	for _, n := range c.Negotiations {
		spec, err := c.spec(n, h)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return reg.List(), nil
}

func (c *Config) spec(n NegotiationConfig, h schedule.Horizon) (target.Spec, error) {
	if n.ID == "" {
		return target.Spec{}, fmt.Errorf("%w: negotiation without id", ErrConfig)
	}
	if len(n.Participants) == 0 {
		return target.Spec{}, fmt.Errorf("%w: negotiation %s: %w", ErrConfig, n.ID, target.ErrNoParticipants)
	}
	spec := target.Spec{
		ID:           n.ID,
		Participants: append([]string(nil), n.Participants...),
		Tolerance:    c.Defaults.Tolerance,
		Strategy:     target.Strategy(c.Defaults.Strategy),
		Deadline:     target.Deadline{Rounds: c.Defaults.DeadlineRounds, Timeout: c.Defaults.Timeout},
	}
	switch {
	case n.TargetFile != "" && len(n.Target) > 0:
		return target.Spec{}, fmt.Errorf("%w: negotiation %s: target and target_file are exclusive", ErrConfig, n.ID)
	case n.TargetFile != "":
		values, weights, err := schedule.ReadTargetFile(c.resolve(n.TargetFile), h)
		if err != nil {
			return target.Spec{}, fmt.Errorf("%w: negotiation %s: %w", ErrConfig, n.ID, err)
		}
		spec.Values, spec.Weights = values, weights
	case len(n.Target) > 0:
		values, err := broadcast(n.Target, h.Intervals)
		if err != nil {
			return target.Spec{}, fmt.Errorf("%w: negotiation %s target: %v", ErrConfig, n.ID, err)
		}
		spec.Values = values
	default:
		return target.Spec{}, fmt.Errorf("%w: negotiation %s has no target", ErrConfig, n.ID)
	}
	if n.Weights != nil {
		w, err := broadcast(n.Weights, h.Intervals)
		if err != nil {
			return target.Spec{}, fmt.Errorf("%w: negotiation %s weights: %v", ErrConfig, n.ID, err)
		}
		spec.Weights = w
	}
	if n.Tolerance != nil {
		spec.Tolerance = *n.Tolerance
	}
	if n.Strategy != "" {
		spec.Strategy = target.Strategy(n.Strategy)
	}
	if n.DeadlineRounds > 0 {
		spec.Deadline.Rounds = n.DeadlineRounds
	}
	if n.Timeout > 0 {
		spec.Deadline.Timeout = n.Timeout
	}
	if err := spec.Validate(h.Intervals); err != nil {
		return target.Spec{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return spec, nil
}
