// Package cosim exposes committed schedules to a co-simulation host and
// buffers the external state updates it sends back.
package cosim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/internal/eventbus"
)

// StateBuffer is the number of state updates kept per resource.
const StateBuffer = 15

// CommitBuffer is the number of commit events queued for a follower
// before the committing negotiation waits for it.
const CommitBuffer = 64

// ErrOutsideHorizon is returned by Setpoint for instants the horizon does not cover.
var ErrOutsideHorizon = errors.New("time outside horizon")

// StateUpdate is one opaque state payload received from the host.
type StateUpdate struct {
	Resource string          `json:"resource"`
	Payload  json.RawMessage `json:"payload"`
	Received time.Time       `json:"received"`
}

// Publisher pushes a schedule to the host.
type Publisher interface {
	PublishSchedule(ctx context.Context, id string, s schedule.Schedule) error
}

// Adapter bridges the schedule store and the co-simulation host.
type Adapter struct {
	store *schedule.Store
	pop   *negotiation.Population
	pub   Publisher
	log   logger.Logger
	now   func() time.Time

	mu     sync.Mutex
	states map[string][]StateUpdate
}

// NewAdapter creates an adapter. pub may be nil when schedules are only
// read through CurrentSchedule and Setpoint.
func NewAdapter(store *schedule.Store, pop *negotiation.Population, pub Publisher, log logger.Logger) *Adapter {
	return &Adapter{
		store:  store,
		pop:    pop,
		pub:    pub,
		log:    log,
		now:    time.Now,
		states: make(map[string][]StateUpdate),
	}
}

// CurrentSchedule returns the committed schedule of a resource, or the
// summed committed schedule of a container.
func (a *Adapter) CurrentSchedule(id string) (schedule.Schedule, error) {
	if a.store.Has(id) {
		return a.store.Committed(id)
	}
	if a.pop != nil {
		if pt, ok := a.pop.Get(id); ok {
			if c, ok := pt.(*negotiation.Container); ok {
				return c.Aggregate(), nil
			}
		}
	}
	return schedule.Schedule{}, fmt.Errorf("%s: %w", id, schedule.ErrUnknownResource)
}

// Setpoint returns the value of id in effect at simulated time t.
func (a *Adapter) Setpoint(id string, t time.Time) (float64, error) {
	s, err := a.CurrentSchedule(id)
	if err != nil {
		return 0, err
	}
	v, ok := s.At(t)
	if !ok {
		return 0, fmt.Errorf("%s at %s: %w", id, t.Format(time.RFC3339), ErrOutsideHorizon)
	}
	return v, nil
}

// UpdateState stores payload as the latest state of resource id, dropping
// the oldest entry once StateBuffer updates are held.
func (a *Adapter) UpdateState(id string, payload []byte) error {
	if !a.store.Has(id) {
		return fmt.Errorf("state for %s: %w", id, schedule.ErrUnknownResource)
	}
	u := StateUpdate{Resource: id, Payload: append(json.RawMessage(nil), payload...), Received: a.now()}
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := append(a.states[id], u)
	if len(buf) > StateBuffer {
		buf = append([]StateUpdate(nil), buf[len(buf)-StateBuffer:]...)
	}
	a.states[id] = buf
	return nil
}

// States returns the buffered updates of id, oldest first.
func (a *Adapter) States(id string) []StateUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]StateUpdate(nil), a.states[id]...)
}

// Publish pushes the committed schedules of ids. Every id is attempted;
// failures are joined.
func (a *Adapter) Publish(ctx context.Context, ids ...string) error {
	if a.pub == nil {
		return nil
	}
	var errs []error
	for _, id := range ids {
		s, err := a.CurrentSchedule(id)
		if err == nil {
			err = a.pub.PublishSchedule(ctx, id, s)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// PublishCommitted pushes every resource schedule held by the store.
func (a *Adapter) PublishCommitted(ctx context.Context) error {
	return a.Publish(ctx, a.store.IDs()...)
}

// Follow publishes the resources of every CommitEvent received on sub
// until ctx is done or sub is closed.
func (a *Adapter) Follow(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e, ok := ev.(events.CommitEvent)
			if !ok {
				continue
			}
			if err := a.Publish(ctx, e.Resources...); err != nil {
				a.log.Errorf("negotiation %s: %v", e.NegotiationID, err)
				continue
			}
			a.log.Debugw("schedules published", map[string]any{"negotiation": e.NegotiationID, "resources": len(e.Resources)})
		}
	}
}

// StartFollower subscribes to commit events on bus and publishes them
// until ctx is done or the bus is closed. Commits are never dropped: a
// slow host holds back later commits instead. The returned channel is
// closed once the follower has stopped.
func (a *Adapter) StartFollower(ctx context.Context, bus *eventbus.Bus[events.Event]) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil {
		close(done)
		return done
	}
	sub := bus.SubscribeLossless(CommitBuffer, func(ev events.Event) bool {
		_, ok := ev.(events.CommitEvent)
		return ok
	})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		a.Follow(ctx, sub)
	}()
	return done
}
