package schedule

import (
	"context"
	"errors"
	"fmt"
)

// ErrLeaseReleased is returned when a released lease is used.
var ErrLeaseReleased = errors.New("lease released")

// Lease grants exclusive write access to a set of resources for the
// lifetime of one negotiation.
type Lease struct {
	store    *Store
	holder   string
	ids      []string
	released bool
}

// Acquire blocks until every resource in ids is free and then leases them
// all at once to holder. Leases are never partially granted.
func (s *Store) Acquire(ctx context.Context, holder string, ids ...string) (*Lease, error) {
	ids = s.normalize(ids)
	for {
		s.mu.Lock()
		for _, id := range ids {
			if _, ok := s.entries[id]; !ok {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrUnknownResource, id)
			}
		}
		free := true
		for _, id := range ids {
			if _, busy := s.holders[id]; busy {
				free = false
				break
			}
		}
		if free {
			for _, id := range ids {
				s.holders[id] = holder
			}
			s.mu.Unlock()
			return &Lease{store: s, holder: holder, ids: ids}, nil
		}
		wait := s.released
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Holder returns the lease owner.
func (l *Lease) Holder() string { return l.holder }

// IDs returns the leased resources in sorted order.
func (l *Lease) IDs() []string { return append([]string(nil), l.ids...) }

// Covers reports whether id is part of the lease.
func (l *Lease) Covers(id string) bool {
	for _, x := range l.ids {
		if x == id {
			return true
		}
	}
	return false
}

// Release frees the leased resources. It is safe to call more than once.
func (l *Lease) Release() {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	for _, id := range l.ids {
		if s.holders[id] == l.holder {
			delete(s.holders, id)
		}
	}
	close(s.released)
	s.released = make(chan struct{})
}

// Begin starts a transaction staging writes against the leased resources.
func (l *Lease) Begin() *Tx {
	return &Tx{lease: l, staged: make(map[string][]float64)}
}

// Tx stages schedule updates and applies them atomically.
type Tx struct {
	lease  *Lease
	staged map[string][]float64
	order  []string
}

// Stage records new values for id. Values are validated against the horizon
// and the envelope immediately.
func (tx *Tx) Stage(id string, values []float64) error {
	if !tx.lease.Covers(id) {
		return fmt.Errorf("resource %s not leased by %s", id, tx.lease.holder)
	}
	env, err := tx.lease.store.Envelope(id)
	if err != nil {
		return err
	}
	if len(values) != tx.lease.store.horizon.Intervals {
		return fmt.Errorf("%s: %w", id, ErrHorizonMismatch)
	}
	if !env.Contains(values) {
		return fmt.Errorf("%s: %w", id, ErrOutsideEnvelope)
	}
	if _, ok := tx.staged[id]; !ok {
		tx.order = append(tx.order, id)
	}
	tx.staged[id] = clone(values)
	return nil
}

// Staged lists staged resource ids in staging order.
func (tx *Tx) Staged() []string { return append([]string(nil), tx.order...) }

// Apply writes every staged schedule in one step. Readers never observe a
// partially applied transaction.
func (tx *Tx) Apply() error {
	s := tx.lease.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.lease.released {
		return ErrLeaseReleased
	}
	for _, id := range tx.order {
		if s.holders[id] != tx.lease.holder {
			return fmt.Errorf("resource %s no longer held by %s", id, tx.lease.holder)
		}
	}
	for _, id := range tx.order {
		e := s.entries[id]
		e.Schedule.Values = tx.staged[id]
		e.Revision++
	}
	tx.staged = make(map[string][]float64)
	tx.order = nil
	return nil
}
