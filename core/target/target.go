// Package target describes what a negotiation must achieve and by when.
package target

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrNoParticipants rejects a negotiation without participants.
var ErrNoParticipants = errors.New("negotiation has no participants")

// Strategy selects how the outstanding delta is handed to participants.
type Strategy string

const (
	// StrategyShare splits the delta evenly across the participants that can
	// still move toward it.
	StrategyShare Strategy = "share"
	// StrategyGreedy offers the full delta to every participant.
	StrategyGreedy Strategy = "greedy"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyShare || s == StrategyGreedy
}

// Deadline bounds a negotiation by rounds and optionally by wall-clock time.
type Deadline struct {
	Rounds  int           `json:"rounds"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Spec is the immutable description of one negotiation.
type Spec struct {
	ID           string    `json:"id"`
	Values       []float64 `json:"values"`
	Weights      []float64 `json:"weights,omitempty"`
	Participants []string  `json:"participants"`
	Deadline     Deadline  `json:"deadline"`
	Tolerance    float64   `json:"tolerance"`
	Strategy     Strategy  `json:"strategy"`
}

// Validate checks the spec against a horizon of n intervals.
func (s Spec) Validate(n int) error {
	if s.ID == "" {
		return fmt.Errorf("negotiation id is empty")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("%s: %w", s.ID, ErrNoParticipants)
	}
	seen := make(map[string]struct{}, len(s.Participants))
	for _, p := range s.Participants {
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%s: participant %s listed twice", s.ID, p)
		}
		seen[p] = struct{}{}
	}
	if len(s.Values) != n {
		return fmt.Errorf("%s: target has %d values for %d intervals", s.ID, len(s.Values), n)
	}
	if s.Weights != nil && len(s.Weights) != n {
		return fmt.Errorf("%s: %d weights for %d intervals", s.ID, len(s.Weights), n)
	}
	for i, w := range s.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%s: weight %d is %g", s.ID, i, w)
		}
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: target value %d is %g", s.ID, i, v)
		}
	}
	if s.Tolerance < 0 {
		return fmt.Errorf("%s: negative tolerance", s.ID)
	}
	if !s.Strategy.Valid() {
		return fmt.Errorf("%s: unknown strategy %q", s.ID, s.Strategy)
	}
	if s.Deadline.Rounds <= 0 && s.Deadline.Timeout <= 0 {
		return fmt.Errorf("%s: deadline needs rounds or timeout", s.ID)
	}
	return nil
}

// Weight returns the weight of interval i, 1 when weights are unset.
func (s Spec) Weight(i int) float64 {
	if s.Weights == nil {
		return 1
	}
	return s.Weights[i]
}

// OfInterest reports whether interval i counts towards convergence.
func (s Spec) OfInterest(i int) bool { return s.Weight(i) > 0 }

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	s.Values = append([]float64(nil), s.Values...)
	if s.Weights != nil {
		s.Weights = append([]float64(nil), s.Weights...)
	}
	s.Participants = append([]string(nil), s.Participants...)
	return s
}

// Registry maps negotiation ids to their specs. Specs are copied in and out.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register stores s. Ids must be unique.
func (r *Registry) Register(s Spec) error {
	if s.ID == "" {
		return fmt.Errorf("negotiation id is empty")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("%s: %w", s.ID, ErrNoParticipants)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[s.ID]; ok {
		return fmt.Errorf("negotiation %s already registered", s.ID)
	}
	r.specs[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the spec for id.
func (r *Registry) Get(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	if !ok {
		return Spec{}, false
	}
	return s.Clone(), true
}

// List returns copies of all specs ordered by id.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered specs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
