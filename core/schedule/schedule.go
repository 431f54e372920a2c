// Package schedule holds the committed operating schedules of every
// distributed energy resource together with its feasibility envelope.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnknownResource is returned when a resource id has no entry in the store.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrHorizonMismatch is returned when a schedule does not cover the store horizon.
	ErrHorizonMismatch = errors.New("schedule does not match horizon")
	// ErrOutsideEnvelope is returned when values leave the feasibility envelope.
	ErrOutsideEnvelope = errors.New("schedule outside envelope")
)

// Horizon is the common planning grid shared by all schedules.
type Horizon struct {
	Start     time.Time     `json:"start"`
	Step      time.Duration `json:"step"`
	Intervals int           `json:"intervals"`
}

// Validate checks that the horizon describes at least one interval.
func (h Horizon) Validate() error {
	if h.Step <= 0 {
		return fmt.Errorf("horizon step must be positive, got %s", h.Step)
	}
	if h.Intervals <= 0 {
		return fmt.Errorf("horizon needs at least one interval, got %d", h.Intervals)
	}
	return nil
}

// Equal reports whether both horizons describe the same grid.
func (h Horizon) Equal(o Horizon) bool {
	return h.Start.Equal(o.Start) && h.Step == o.Step && h.Intervals == o.Intervals
}

// At returns the timestamp of interval i.
func (h Horizon) At(i int) time.Time {
	return h.Start.Add(time.Duration(i) * h.Step)
}

// End returns the first instant after the horizon.
func (h Horizon) End() time.Time { return h.At(h.Intervals) }

// Index maps t onto the interval containing it.
func (h Horizon) Index(t time.Time) (int, bool) {
	if t.Before(h.Start) || !t.Before(h.End()) {
		return 0, false
	}
	return int(t.Sub(h.Start) / h.Step), true
}

// Zero returns an all-zero schedule on the horizon.
func (h Horizon) Zero() Schedule {
	return Schedule{Start: h.Start, Step: h.Step, Values: make([]float64, h.Intervals)}
}

// Schedule is a time series of values, one per horizon interval.
type Schedule struct {
	Start  time.Time     `json:"start"`
	Step   time.Duration `json:"step"`
	Values []float64     `json:"values"`
}

// New builds a schedule for h from a copy of values.
func New(h Horizon, values []float64) (Schedule, error) {
	if len(values) != h.Intervals {
		return Schedule{}, fmt.Errorf("%w: %d values for %d intervals", ErrHorizonMismatch, len(values), h.Intervals)
	}
	return Schedule{Start: h.Start, Step: h.Step, Values: clone(values)}, nil
}

// Len returns the number of intervals.
func (s Schedule) Len() int { return len(s.Values) }

// Fits reports whether s is laid out on h.
func (s Schedule) Fits(h Horizon) bool {
	return s.Start.Equal(h.Start) && s.Step == h.Step && len(s.Values) == h.Intervals
}

// Timestamps lists the start of every interval.
func (s Schedule) Timestamps() []time.Time {
	ts := make([]time.Time, len(s.Values))
	for i := range s.Values {
		ts[i] = s.Start.Add(time.Duration(i) * s.Step)
	}
	return ts
}

// At returns the value in effect at t.
func (s Schedule) At(t time.Time) (float64, bool) {
	if s.Step <= 0 || t.Before(s.Start) {
		return 0, false
	}
	i := int(t.Sub(s.Start) / s.Step)
	if i >= len(s.Values) {
		return 0, false
	}
	return s.Values[i], true
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	s.Values = clone(s.Values)
	return s
}

// Sum adds schedules laid out on h. Schedules not fitting h are rejected.
func Sum(h Horizon, ss ...Schedule) (Schedule, error) {
	out := h.Zero()
	for _, s := range ss {
		if !s.Fits(h) {
			return Schedule{}, ErrHorizonMismatch
		}
		floats.Add(out.Values, s.Values)
	}
	return out, nil
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
