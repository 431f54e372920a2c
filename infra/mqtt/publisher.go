package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/dernego/core/monitoring"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/infra/logger"
)

// ScheduleMessage is the JSON payload published for a resource.
type ScheduleMessage struct {
	Resource    string    `json:"resource"`
	Start       time.Time `json:"start"`
	StepSeconds float64   `json:"step_seconds"`
	Values      []float64 `json:"values"`
	PublishedAt int64     `json:"published_at"`
}

// SchedulePublisher pushes committed schedules to
// <schedule_prefix>/<id>/schedule.
type SchedulePublisher struct {
	cli        pahoClient
	prefix     string
	qos        byte
	retain     bool
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewSchedulePublisher connects to the broker.
func NewSchedulePublisher(cfg Config) (*SchedulePublisher, error) {
	cfg.SetDefaults()
	log := logger.New("mqtt-publisher")
	cli, err := connect(cfg, "publisher", log, nil)
	if err != nil {
		return nil, err
	}
	return &SchedulePublisher{
		cli:        cli,
		prefix:     cfg.SchedulePrefix,
		qos:        cfg.qos("schedule"),
		retain:     cfg.Retain,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}, nil
}

// Topic returns the topic of resource id.
func (p *SchedulePublisher) Topic(id string) string {
	return joinTopic(p.prefix, id, "schedule")
}

// PublishSchedule publishes s, retrying with exponential backoff. The last
// failure is reported to the monitor.
func (p *SchedulePublisher) PublishSchedule(ctx context.Context, id string, s schedule.Schedule) error {
	payload, err := json.Marshal(ScheduleMessage{
		Resource:    id,
		Start:       s.Start,
		StepSeconds: s.Step.Seconds(),
		Values:      s.Values,
		PublishedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	topic := p.Topic(id)
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.qos, p.retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Debugf("published schedule of %s to %s", id, topic)
			return nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(p.backoff, attempt)):
		}
	}
	err = fmt.Errorf("publish %s: %w", topic, publishErr)
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "resource": id})
	return err
}

// Disconnect gracefully closes the MQTT connection.
func (p *SchedulePublisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
