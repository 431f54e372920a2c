package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/dernego/core/schedule"
)

// HorizonConfig describes the time grid. Start and step may be omitted
// when the schedule file header provides them.
type HorizonConfig struct {
	Start       string `json:"start"`
	StepMinutes int    `json:"step_minutes"`
	Intervals   int    `json:"intervals"`
}

// SchedulesConfig lists where initial schedules and envelopes come from.
type SchedulesConfig struct {
	File   string           `json:"file"`
	Inline []InlineSchedule `json:"inline"`
}

// InlineSchedule declares a resource directly in the configuration. A
// single element in Values, Min or Max applies to every interval.
type InlineSchedule struct {
	ID     string    `json:"id"`
	Owner  string    `json:"owner"`
	Values []float64 `json:"values"`
	Min    []float64 `json:"min"`
	Max    []float64 `json:"max"`
}

// Resolve builds the horizon, taking missing start and step from hdr.
func (h HorizonConfig) Resolve(hdr *schedule.FileHeader) (schedule.Horizon, error) {
	start, minutes := h.Start, h.StepMinutes
	if hdr != nil {
		if start == "" {
			start = hdr.StartTime
		}
		if minutes == 0 {
			minutes = hdr.IntervalMinutes
		}
	}
	if start == "" {
		return schedule.Horizon{}, fmt.Errorf("%w: horizon.start is required", ErrConfig)
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return schedule.Horizon{}, fmt.Errorf("%w: horizon.start: %v", ErrConfig, err)
	}
	out := schedule.Horizon{Start: t, Step: time.Duration(minutes) * time.Minute, Intervals: h.Intervals}
	if err := out.Validate(); err != nil {
		return schedule.Horizon{}, fmt.Errorf("%w: horizon: %v", ErrConfig, err)
	}
	return out, nil
}

// Header reads the schedule file header when a file is configured. Read
// errors surface later through Entries.
func (c *Config) Header() *schedule.FileHeader {
	if c.Schedules.File == "" {
		return nil
	}
	hdr, err := schedule.ReadHeader(c.resolve(c.Schedules.File))
	if err != nil {
		return nil
	}
	return &hdr
}

// ResolveHorizon builds the horizon of the run.
func (c *Config) ResolveHorizon() (schedule.Horizon, error) {
	return c.Horizon.Resolve(c.Header())
}

// Entries loads every resource of the run on horizon h.
func (c *Config) Entries(h schedule.Horizon) ([]schedule.Entry, error) {
	var out []schedule.Entry
	if c.Schedules.File != "" {
		entries, err := schedule.ReadFile(c.resolve(c.Schedules.File), h)
		if err != nil {
			return nil, fmt.Errorf("%w: schedules: %w", ErrConfig, err)
		}
		out = append(out, entries...)
	}
	for _, in := range c.Schedules.Inline {
		e, err := in.entry(h)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no schedules declared", ErrConfig)
	}
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		if _, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("%w: schedule %s declared twice", ErrConfig, e.ID)
		}
		seen[e.ID] = struct{}{}
		if !e.Envelope.Contains(e.Schedule.Values) {
			return nil, fmt.Errorf("%w: schedule %s: %w", ErrConfig, e.ID, schedule.ErrOutsideEnvelope)
		}
	}
	return out, nil
}

func (in InlineSchedule) entry(h schedule.Horizon) (schedule.Entry, error) {
	if in.ID == "" {
		return schedule.Entry{}, fmt.Errorf("%w: inline schedule without id", ErrConfig)
	}
	values, err := broadcast(in.Values, h.Intervals)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%w: schedule %s values: %v", ErrConfig, in.ID, err)
	}
	lo, err := broadcast(in.Min, h.Intervals)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%w: schedule %s min: %v", ErrConfig, in.ID, err)
	}
	hi, err := broadcast(in.Max, h.Intervals)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%w: schedule %s max: %v", ErrConfig, in.ID, err)
	}
	s, err := schedule.New(h, values)
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("%w: schedule %s: %v", ErrConfig, in.ID, err)
	}
	env := schedule.Envelope{Min: lo, Max: hi}
	if err := env.Validate(h.Intervals); err != nil {
		return schedule.Entry{}, fmt.Errorf("%w: schedule %s: %v", ErrConfig, in.ID, err)
	}
	return schedule.Entry{ID: in.ID, Owner: in.Owner, Schedule: s, Envelope: env}, nil
}

// broadcast expands a single value to n intervals. An empty list yields
// zeros.
func broadcast(v []float64, n int) ([]float64, error) {
	switch len(v) {
	case 0:
		return make([]float64, n), nil
	case 1:
		out := make([]float64, n)
		for i := range out {
			out[i] = v[0]
		}
		return out, nil
	case n:
		return append([]float64(nil), v...), nil
	default:
		return nil, fmt.Errorf("%d values for %d intervals", len(v), n)
	}
}
