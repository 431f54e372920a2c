package config

import (
	"fmt"
	"sort"
)

// AgentConfig declares an agent managing the resource of the same id.
type AgentConfig struct {
	ID string `json:"id"`
}

// ContainerConfig groups agents or other containers.
type ContainerConfig struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

func (c *Config) validateParticipants(resources map[string]struct{}) error {
	ids := make(map[string]string)
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agent without id", ErrConfig)
		}
		if _, ok := ids[a.ID]; ok {
			return fmt.Errorf("%w: participant %s declared twice", ErrConfig, a.ID)
		}
		if _, ok := resources[a.ID]; !ok {
			return fmt.Errorf("%w: agent %s has no schedule", ErrConfig, a.ID)
		}
		ids[a.ID] = "agent"
	}
	for _, ct := range c.Containers {
		if ct.ID == "" {
			return fmt.Errorf("%w: container without id", ErrConfig)
		}
		if _, ok := ids[ct.ID]; ok {
			return fmt.Errorf("%w: participant %s declared twice", ErrConfig, ct.ID)
		}
		ids[ct.ID] = "container"
	}
	for _, ct := range c.Containers {
		if len(ct.Members) == 0 {
			return fmt.Errorf("%w: container %s has no members", ErrConfig, ct.ID)
		}
		for _, m := range ct.Members {
			if _, ok := ids[m]; !ok {
				return fmt.Errorf("%w: container %s: unknown member %s", ErrConfig, ct.ID, m)
			}
		}
	}
	if _, err := c.ContainerOrder(); err != nil {
		return err
	}
	for _, n := range c.Negotiations {
		for _, p := range n.Participants {
			if _, ok := ids[p]; !ok {
				return fmt.Errorf("%w: negotiation %s: unknown participant %s", ErrConfig, n.ID, p)
			}
		}
	}
	return nil
}

// ContainerOrder returns the containers sorted so that every container
// comes after the containers it contains. Membership cycles are rejected.
func (c *Config) ContainerOrder() ([]ContainerConfig, error) {
	byID := make(map[string]ContainerConfig, len(c.Containers))
	for _, ct := range c.Containers {
		byID[ct.ID] = ct
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byID))
	out := make([]ContainerConfig, 0, len(byID))
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: container cycle %v", ErrConfig, append(path, id))
		}
		state[id] = visiting
		for _, m := range byID[id].Members {
			if _, ok := byID[m]; ok {
				if err := visit(m, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = done
		out = append(out, byID[id])
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}
