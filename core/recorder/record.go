// Package recorder persists one self-contained record per finished
// negotiation. Stores are append-only: a record key is written once.
package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
)

// ErrAlreadyRecorded is returned when a record key already exists.
var ErrAlreadyRecorded = errors.New("negotiation already recorded")

// Record is the persisted form of a negotiation result.
type Record struct {
	RunID         string                   `json:"run_id"`
	NegotiationID string                   `json:"negotiation_id"`
	RecordedAt    time.Time                `json:"recorded_at"`
	Status        string                   `json:"status"`
	Committed     bool                     `json:"committed"`
	Horizon       schedule.Horizon         `json:"horizon"`
	Target        []float64                `json:"target"`
	Weights       []float64                `json:"weights,omitempty"`
	Tolerance     float64                  `json:"tolerance"`
	Strategy      string                   `json:"strategy"`
	Deadline      target.Deadline          `json:"deadline"`
	Achieved      []float64                `json:"achieved"`
	Objective     float64                  `json:"objective"`
	Final         map[string][]float64     `json:"final"`
	Participants  []string                 `json:"participants"`
	Topology      []negotiation.Topology   `json:"topology"`
	Rounds        int                      `json:"rounds"`
	Trace         []negotiation.RoundTrace `json:"trace"`
}

// Key identifies the record within a store.
func (r Record) Key() string { return RecordKey(r.RunID, r.NegotiationID) }

// RecordKey builds the key of a negotiation within a run.
func RecordKey(runID, negotiationID string) string { return runID + "/" + negotiationID }

// FromResult converts a negotiation result into a record.
func FromResult(runID string, h schedule.Horizon, res negotiation.Result, at time.Time) Record {
	return Record{
		RunID:         runID,
		NegotiationID: res.ID,
		RecordedAt:    at.UTC(),
		Status:        string(res.Status),
		Committed:     res.Committed,
		Horizon:       h,
		Target:        res.Target,
		Weights:       res.Spec.Weights,
		Tolerance:     res.Spec.Tolerance,
		Strategy:      string(res.Spec.Strategy),
		Deadline:      res.Spec.Deadline,
		Achieved:      res.Achieved,
		Objective:     res.Objective,
		Final:         res.Final,
		Participants:  res.Spec.Participants,
		Topology:      res.Topology,
		Rounds:        res.Rounds,
		Trace:         res.Trace,
	}
}

// Query defines filters for retrieving records. Zero values match all.
type Query struct {
	RunID         string
	NegotiationID string
	Status        string
	Since         time.Time
	Until         time.Time
}

// Match reports whether r passes every filter of q.
func (q Query) Match(r Record) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.NegotiationID != "" && r.NegotiationID != q.NegotiationID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && r.RecordedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.RecordedAt.After(q.Until) {
		return false
	}
	return true
}

// RecordStore persists records and supports querying.
type RecordStore interface {
	Append(ctx context.Context, rec Record) error
	Exists(ctx context.Context, key string) (bool, error)
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
