package negotiation

import (
	"time"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/logger"
	"github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/internal/eventbus"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type options struct {
	log   logger.Logger
	bus   eventbus.Publisher[events.Event]
	sink  metrics.Sink
	clock func() time.Time
}

func defaultOptions() options {
	return options{log: nopLogger{}, sink: metrics.NopSink{}, clock: time.Now}
}

// Option customises engines, coordinators and runners.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithBus publishes negotiation events on bus.
func WithBus(bus eventbus.Publisher[events.Event]) Option {
	return func(o *options) { o.bus = bus }
}

// WithSink records outcomes on sink.
func WithSink(s metrics.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithClock replaces time.Now, used for timeouts and durations.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
