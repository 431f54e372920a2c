package schedule

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Epsilon is the numeric slack used for envelope and movement checks.
const Epsilon = 1e-9

// Envelope bounds the values a resource may take per interval.
type Envelope struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Constant builds an envelope with the same bounds on every interval.
func Constant(n int, lo, hi float64) Envelope {
	e := Envelope{Min: make([]float64, n), Max: make([]float64, n)}
	for i := 0; i < n; i++ {
		e.Min[i], e.Max[i] = lo, hi
	}
	return e
}

// Validate checks the envelope covers n intervals with Min <= Max.
func (e Envelope) Validate(n int) error {
	if len(e.Min) != n || len(e.Max) != n {
		return fmt.Errorf("%w: envelope has %d/%d bounds for %d intervals", ErrHorizonMismatch, len(e.Min), len(e.Max), n)
	}
	for i := range e.Min {
		if math.IsNaN(e.Min[i]) || math.IsNaN(e.Max[i]) || e.Min[i] > e.Max[i] {
			return fmt.Errorf("envelope interval %d: min %g > max %g", i, e.Min[i], e.Max[i])
		}
	}
	return nil
}

// Contains reports whether every value lies within the bounds.
func (e Envelope) Contains(values []float64) bool {
	if len(values) != len(e.Min) || len(values) != len(e.Max) {
		return false
	}
	for i, v := range values {
		if v < e.Min[i]-Epsilon || v > e.Max[i]+Epsilon {
			return false
		}
	}
	return true
}

// Clamp limits v to the bounds of interval i.
func (e Envelope) Clamp(i int, v float64) float64 {
	return math.Max(e.Min[i], math.Min(e.Max[i], v))
}

// Len returns the number of intervals covered.
func (e Envelope) Len() int { return len(e.Min) }

// Clone returns a deep copy.
func (e Envelope) Clone() Envelope {
	return Envelope{Min: clone(e.Min), Max: clone(e.Max)}
}

// SumEnvelopes adds envelopes covering n intervals.
func SumEnvelopes(n int, es ...Envelope) Envelope {
	out := Envelope{Min: make([]float64, n), Max: make([]float64, n)}
	for _, e := range es {
		floats.Add(out.Min, e.Min)
		floats.Add(out.Max, e.Max)
	}
	return out
}
