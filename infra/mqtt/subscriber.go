package mqtt

import (
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/dernego/infra/logger"
)

// StateSink receives state payloads keyed by resource id.
type StateSink interface {
	UpdateState(id string, payload []byte) error
}

// StateSubscriber forwards messages on <state_prefix>/+ to a StateSink.
type StateSubscriber struct {
	cli   pahoClient
	topic string
	sink  StateSink
	log   logger.Logger
}

// NewStateSubscriber connects and subscribes. The subscription is renewed
// on every reconnection.
func NewStateSubscriber(cfg Config, sink StateSink) (*StateSubscriber, error) {
	cfg.SetDefaults()
	s := &StateSubscriber{
		topic: joinTopic(cfg.StatePrefix, "+"),
		sink:  sink,
		log:   logger.New("mqtt-state"),
	}
	qos := cfg.qos("state")
	cli, err := connect(cfg, "state", s.log, func(c paho.Client) {
		if token := c.Subscribe(s.topic, qos, s.onState); token.Wait() && token.Error() != nil {
			s.log.Errorf("subscribe state: %v", token.Error())
		}
	})
	if err != nil {
		return nil, err
	}
	s.cli = cli
	return s, nil
}

func (s *StateSubscriber) onState(_ paho.Client, msg paho.Message) {
	id := extractID(msg.Topic())
	if id == "" {
		return
	}
	if err := s.sink.UpdateState(id, msg.Payload()); err != nil {
		s.log.Warnf("state update for %s: %v", id, err)
	}
}

func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}

// Disconnect gracefully closes the MQTT connection.
func (s *StateSubscriber) Disconnect() {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}
