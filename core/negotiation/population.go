package negotiation

import (
	"fmt"

	"github.com/kilianp07/dernego/core/schedule"
)

// Population indexes every agent and container of a run by id.
type Population struct {
	store   *schedule.Store
	members map[string]Participant
	order   []string
	opts    []Option
}

// NewPopulation creates an empty population over store. opts are handed
// to every agent it creates.
func NewPopulation(store *schedule.Store, opts ...Option) *Population {
	return &Population{store: store, members: make(map[string]Participant), opts: opts}
}

// AddAgent registers an agent for the store entry id.
func (p *Population) AddAgent(id string) (*Agent, error) {
	if _, ok := p.members[id]; ok {
		return nil, fmt.Errorf("participant %s already defined", id)
	}
	a, err := NewAgent(id, p.store, p.opts...)
	if err != nil {
		return nil, err
	}
	p.add(a)
	return a, nil
}

// AddContainer registers a container over already defined members.
func (p *Population) AddContainer(id string, memberIDs ...string) (*Container, error) {
	if _, ok := p.members[id]; ok {
		return nil, fmt.Errorf("participant %s already defined", id)
	}
	members, err := p.Resolve(memberIDs...)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", id, err)
	}
	c, err := NewContainer(id, members...)
	if err != nil {
		return nil, err
	}
	p.add(c)
	return c, nil
}

func (p *Population) add(pt Participant) {
	p.members[pt.ID()] = pt
	p.order = append(p.order, pt.ID())
}

// Get returns the participant with id.
func (p *Population) Get(id string) (Participant, bool) {
	pt, ok := p.members[id]
	return pt, ok
}

// IDs lists participants in registration order.
func (p *Population) IDs() []string { return append([]string(nil), p.order...) }

// Resolve maps ids to participants, failing on the first unknown id.
func (p *Population) Resolve(ids ...string) ([]Participant, error) {
	out := make([]Participant, len(ids))
	for i, id := range ids {
		pt, ok := p.members[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
		}
		out[i] = pt
	}
	return out, nil
}

// Resources returns the store entries reachable from ids.
func (p *Population) Resources(ids ...string) ([]string, error) {
	parts, err := p.Resolve(ids...)
	if err != nil {
		return nil, err
	}
	return resourcesOf(parts)
}

// Topology describes how a participant decomposes into members.
type Topology struct {
	ID      string     `json:"id"`
	Kind    string     `json:"kind"`
	Members []Topology `json:"members,omitempty"`
}

// Describe returns the topology of pt.
func Describe(pt Participant) Topology {
	c, ok := pt.(*Container)
	if !ok {
		return Topology{ID: pt.ID(), Kind: "agent"}
	}
	t := Topology{ID: c.ID(), Kind: "container"}
	for _, m := range c.members {
		t.Members = append(t.Members, Describe(m))
	}
	return t
}

func resourcesOf(parts []Participant) ([]string, error) {
	owner := make(map[string]string)
	var out []string
	for _, pt := range parts {
		for _, r := range pt.Resources() {
			if prev, ok := owner[r]; ok {
				return nil, fmt.Errorf("%w: %s via %s and %s", ErrDuplicateResource, r, prev, pt.ID())
			}
			owner[r] = pt.ID()
			out = append(out, r)
		}
	}
	return out, nil
}
