package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/core/schedule"
)

// Recorder turns negotiation results into records of one run.
type Recorder struct {
	store   RecordStore
	runID   string
	horizon schedule.Horizon
	log     logger.Logger
	now     func() time.Time
}

// New creates a recorder writing to store under runID.
func New(store RecordStore, runID string, h schedule.Horizon, log logger.Logger) *Recorder {
	return &Recorder{store: store, runID: runID, horizon: h, log: log, now: time.Now}
}

// RunID returns the identifier of the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Record appends the result. Recording the same negotiation twice in one
// run fails with ErrAlreadyRecorded and leaves the first record untouched.
func (r *Recorder) Record(ctx context.Context, res negotiation.Result) error {
	key := RecordKey(r.runID, res.ID)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("record %s: %w", key, ErrAlreadyRecorded)
	}
	rec := FromResult(r.runID, r.horizon, res, r.now())
	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	r.log.Debugw("negotiation recorded", map[string]any{"key": key, "status": rec.Status, "rounds": rec.Rounds})
	return nil
}
