package schedule

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is the stored state of one resource.
type Entry struct {
	ID       string   `json:"id"`
	Owner    string   `json:"owner,omitempty"`
	Schedule Schedule `json:"schedule"`
	Envelope Envelope `json:"envelope"`
	// Revision counts applied commits.
	Revision int `json:"revision"`
}

// Store keeps the committed schedule of every resource. Reads return copies;
// writes only happen through a Tx obtained from a Lease.
type Store struct {
	mu       sync.Mutex
	horizon  Horizon
	entries  map[string]*Entry
	order    []string
	holders  map[string]string
	released chan struct{}
}

// NewStore creates an empty store on horizon h.
func NewStore(h Horizon) *Store {
	return &Store{
		horizon:  h,
		entries:  make(map[string]*Entry),
		holders:  make(map[string]string),
		released: make(chan struct{}),
	}
}

// Horizon returns the planning grid.
func (s *Store) Horizon() Horizon { return s.horizon }

// Add registers a resource. The schedule must fit the horizon and stay
// inside the envelope.
func (s *Store) Add(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("resource id is empty")
	}
	if !e.Schedule.Fits(s.horizon) {
		return fmt.Errorf("%s: %w", e.ID, ErrHorizonMismatch)
	}
	if err := e.Envelope.Validate(s.horizon.Intervals); err != nil {
		return fmt.Errorf("%s: %w", e.ID, err)
	}
	if !e.Envelope.Contains(e.Schedule.Values) {
		return fmt.Errorf("%s: %w", e.ID, ErrOutsideEnvelope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("resource %s already registered", e.ID)
	}
	cp := e
	cp.Schedule = e.Schedule.Clone()
	cp.Envelope = e.Envelope.Clone()
	s.entries[e.ID] = &cp
	s.order = append(s.order, e.ID)
	return nil
}

// Get returns a copy of the entry for id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	cp := *e
	cp.Schedule = e.Schedule.Clone()
	cp.Envelope = e.Envelope.Clone()
	return cp, nil
}

// Committed returns the committed schedule of id.
func (s *Store) Committed(id string) (Schedule, error) {
	e, err := s.Get(id)
	if err != nil {
		return Schedule{}, err
	}
	return e.Schedule, nil
}

// Envelope returns the feasibility envelope of id.
func (s *Store) Envelope(id string) (Envelope, error) {
	e, err := s.Get(id)
	if err != nil {
		return Envelope{}, err
	}
	return e.Envelope, nil
}

// Has reports whether id is registered.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// IDs lists the resources in registration order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Snapshot copies every committed schedule.
func (s *Store) Snapshot() map[string]Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Schedule, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.Schedule.Clone()
	}
	return out
}

// Holders returns the current lease holder per leased resource.
func (s *Store) Holders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.holders))
	for k, v := range s.holders {
		out[k] = v
	}
	return out
}

func (s *Store) normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
