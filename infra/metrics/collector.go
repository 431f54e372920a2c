package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/dernego/core/events"
	coremetrics "github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/internal/eventbus"
	"github.com/kilianp07/dernego/infra/logger"
)

// StartEventCollector subscribes to the event bus and records round
// statistics on sinks implementing coremetrics.RoundRecorder. It stops when
// the context is canceled or the bus is closed. The returned channel is
// closed once the collector has stopped.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[events.Event], sink coremetrics.Sink) <-chan struct{} {
	done := make(chan struct{})
	rr, ok := sink.(coremetrics.RoundRecorder)
	if bus == nil || !ok {
		close(done)
		return done
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				e, ok := ev.(events.RoundEvent)
				if !ok {
					continue
				}
				if err := rr.RecordRound(coremetrics.RoundRecord{
					NegotiationID: e.NegotiationID,
					Round:         e.Round,
					Proposals:     e.Proposals,
					Accepted:      e.Accepted,
					Objective:     e.Objective,
					MaxAbsDelta:   e.MaxAbsDelta,
					Time:          time.Now(),
				}); err != nil {
					log.Warnf("record round %s/%d: %v", e.NegotiationID, e.Round, err)
				}
			}
		}
	}()
	return done
}
