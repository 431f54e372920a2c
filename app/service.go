// Package app wires configuration, negotiation core and infrastructure
// adapters into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/dernego/config"
	"github.com/kilianp07/dernego/core/cosim"
	"github.com/kilianp07/dernego/core/events"
	coremetrics "github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/core/monitoring"
	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
	"github.com/kilianp07/dernego/infra/logger"
	"github.com/kilianp07/dernego/infra/metrics"
	infmon "github.com/kilianp07/dernego/infra/monitoring"
	"github.com/kilianp07/dernego/infra/mqtt"
	"github.com/kilianp07/dernego/internal/eventbus"
)

// Service holds every component of one run.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Horizon     schedule.Horizon
	Store       *schedule.Store
	Population  *negotiation.Population
	Specs       []target.Spec
	Records     recorder.RecordStore
	Recorder    *recorder.Recorder
	Coordinator *negotiation.Coordinator
	Runner      *negotiation.Runner
	Bus         *eventbus.Bus[events.Event]
	Sink        coremetrics.Sink
	Adapter     *cosim.Adapter

	publisher  *mqtt.SchedulePublisher
	subscriber *mqtt.StateSubscriber
	following  <-chan struct{}
}

// New builds a service from a validated configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	log := logger.New("service")

	mon, err := infmon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	monitoring.Init(mon)

	s := &Service{cfg: cfg, log: log, Bus: eventbus.New[events.Event]()}
	if err := s.buildWorld(); err != nil {
		return nil, err
	}
	if s.Sink, err = coremetrics.NewSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	recorder.SetLogger(logger.New("recorder"))
	if s.Records, err = recorder.Open(cfg.Results); err != nil {
		return nil, fmt.Errorf("result store: %w", err)
	}
	s.Recorder = recorder.New(s.Records, cfg.RunID, s.Horizon, logger.New("recorder"))
	s.Coordinator = negotiation.NewCoordinator(s.Store, s.Population,
		negotiation.WithLogger(logger.New("negotiation")),
		negotiation.WithBus(s.Bus),
		negotiation.WithSink(s.Sink),
	)
	s.Runner = negotiation.NewRunner(s.Coordinator, s.Recorder, cfg.Workers)

	if cfg.Cosim.Enabled {
		if err := s.connectCosim(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// buildWorld loads resources, then agents, then containers in dependency
// order.
func (s *Service) buildWorld() error {
	h, err := s.cfg.ResolveHorizon()
	if err != nil {
		return err
	}
	entries, err := s.cfg.Entries(h)
	if err != nil {
		return err
	}
	store := schedule.NewStore(h)
	for _, e := range entries {
		if err := store.Add(e); err != nil {
			return fmt.Errorf("resource %s: %w", e.ID, err)
		}
	}
	pop := negotiation.NewPopulation(store, negotiation.WithLogger(logger.New("agent")))
	for _, a := range s.cfg.Agents {
		if _, err := pop.AddAgent(a.ID); err != nil {
			return err
		}
	}
	containers, err := s.cfg.ContainerOrder()
	if err != nil {
		return err
	}
	for _, c := range containers {
		if _, err := pop.AddContainer(c.ID, c.Members...); err != nil {
			return err
		}
	}
	specs, err := s.cfg.Specs(h)
	if err != nil {
		return err
	}
	s.Horizon, s.Store, s.Population, s.Specs = h, store, pop, specs
	s.log.Infof("loaded %d resources, %d participants and %d negotiations", len(entries), len(pop.IDs()), len(specs))
	return nil
}

func (s *Service) connectCosim() error {
	var err error
	if s.publisher, err = mqtt.NewSchedulePublisher(s.cfg.MQTT); err != nil {
		return fmt.Errorf("mqtt publisher: %w", err)
	}
	s.Adapter = cosim.NewAdapter(s.Store, s.Population, s.publisher, logger.New("cosim"))
	if s.cfg.Cosim.SubscribeState {
		if s.subscriber, err = mqtt.NewStateSubscriber(s.cfg.MQTT, s.Adapter); err != nil {
			return fmt.Errorf("mqtt state subscriber: %w", err)
		}
	}
	return nil
}

// Run executes every negotiation once and returns the summary.
func (s *Service) Run(ctx context.Context) (negotiation.Summary, error) {
	collectorCtx, stop := context.WithCancel(context.Background())
	defer stop()
	collected := metrics.StartEventCollector(collectorCtx, s.Bus, s.Sink)

	if s.Adapter != nil && s.cfg.Cosim.PublishOnCommit {
		s.following = s.Adapter.StartFollower(context.Background(), s.Bus)
	}

	started := time.Now()
	summary, err := s.Runner.Run(ctx, s.Specs)
	if err != nil {
		return summary, err
	}
	s.log.Infof("run %s finished in %s: %d converged, %d deadline exceeded, %d infeasible",
		s.cfg.RunID, time.Since(started).Round(time.Millisecond),
		summary.Count(negotiation.StatusConverged),
		summary.Count(negotiation.StatusDeadlineExceeded),
		summary.Count(negotiation.StatusInfeasible))

	if s.Adapter != nil && !s.cfg.Cosim.PublishOnCommit {
		if err := s.Adapter.PublishCommitted(ctx); err != nil {
			s.log.Errorf("publish schedules: %v", err)
		}
	}
	s.stopFollowing()
	stop()
	<-collected
	return summary, nil
}

// Close releases the stores and connections held by the service.
func (s *Service) Close() error {
	s.stopFollowing()
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	if s.subscriber != nil {
		s.subscriber.Disconnect()
	}
	var errs []error
	if s.Records != nil {
		errs = append(errs, s.Records.Close())
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}

// stopFollowing closes the bus and waits for queued commits to be published.
func (s *Service) stopFollowing() {
	s.Bus.Close()
	if s.following != nil {
		<-s.following
	}
}
