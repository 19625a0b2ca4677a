// Package subscriber owns the MQTT topic subscriptions and the message
// handler that feeds decoded readings into the time-series write path.
package subscriber

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/codec"
	"github.com/deadmade/isopruefi-ingest/internal/config"
	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// SensorWriter is the slice of the buffered writer the subscriber uses.
type SensorWriter interface {
	WriteSensorData(ctx context.Context, value float64, sensor string, timestamp int64, sequence int)
}

type settingsSource interface {
	GetTopicSettings(ctx context.Context) ([]model.TopicSetting, error)
}

type Subscriber struct {
	settings   settingsSource
	writer     SensorWriter
	shareGroup string
	qos        byte
	logger     *zap.Logger

	mu     sync.RWMutex
	topics map[string]model.TopicSetting
}

func New(settings settingsSource, writer SensorWriter, cfg *config.Config, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		settings:   settings,
		writer:     writer,
		shareGroup: cfg.MQTTShareGroup,
		qos:        cfg.MQTTQoS,
		logger:     logger,
		topics:     make(map[string]model.TopicSetting),
	}
}

// LoadSettings reads the topic settings once, before the broker connection
// comes up. Settings changed afterwards require a worker restart.
func (s *Subscriber) LoadSettings(ctx context.Context) error {
	settings, err := s.settings.GetTopicSettings(ctx)
	if err != nil {
		return fmt.Errorf("load topic settings: %w", err)
	}
	if len(settings) == 0 {
		s.logger.Warn("no topic settings configured, nothing to subscribe to")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, setting := range settings {
		topic := setting.TopicPath()
		s.topics[topic] = setting
		if setting.HasRecovery {
			s.topics[model.RecoveredTopic(topic)] = setting
		}
	}
	return nil
}

// Subscribe registers every topic filter on the client. It runs on each
// (re)connect; the broker delivers one copy of each message per share group,
// so multiple worker instances split the feed between them.
func (s *Subscriber) Subscribe(client mqtt.Client) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for topic := range s.topics {
		shared := model.SharedTopic(s.shareGroup, topic)
		if token := client.Subscribe(shared, s.qos, s.handleMessage); token.Wait() && token.Error() != nil {
			s.logger.Error("subscribe failed",
				zap.String("topic", shared), zap.Error(token.Error()))
			continue
		}
		s.logger.Info("subscribed to topic",
			zap.String("topic", shared), zap.Uint8("qos", s.qos))
	}
}

// handleMessage is the single handler for every subscribed topic. A bad
// payload is logged and dropped; nothing thrown here may take down the
// subscription loop.
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.RLock()
	setting, ok := s.topics[msg.Topic()]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("message on unknown topic dropped", zap.String("topic", msg.Topic()))
		return
	}

	decoded, err := codec.Decode(msg.Payload())
	if err != nil {
		s.logger.Error("undecodable payload dropped",
			zap.String("topic", msg.Topic()),
			zap.String("sensor", setting.SensorName),
			zap.Error(err))
		return
	}

	s.process(context.Background(), setting, decoded)
}

func (s *Subscriber) process(ctx context.Context, setting model.TopicSetting, msg *codec.Message) {
	primary := msg.Reading

	switch {
	case msg.ValueCount > 1:
		// Multi-value primary readings are not part of the wire contract;
		// skip rather than guess which entry is authoritative.
		s.logger.Warn("reading with multiple values skipped",
			zap.String("sensor", setting.SensorName),
			zap.Int("values", msg.ValueCount))
	case primary.Value != nil:
		s.writer.WriteSensorData(ctx, *primary.Value, setting.SensorName,
			primary.Timestamp, sequenceOrZero(primary.Sequence))
	case msg.Recovery == nil:
		s.logger.Warn("reading without value or recovery batch skipped",
			zap.String("sensor", setting.SensorName))
	}

	for _, entry := range msg.Recovery {
		if entry.Value == nil {
			s.logger.Warn("recovery entry without value skipped",
				zap.String("sensor", setting.SensorName))
			continue
		}
		if isDuplicate(primary, entry) {
			s.logger.Debug("recovery entry duplicates primary reading, skipped",
				zap.String("sensor", setting.SensorName),
				zap.Int("sequence", *entry.Sequence))
			continue
		}
		s.writer.WriteSensorData(ctx, *entry.Value, setting.SensorName,
			entry.Timestamp, sequenceOrZero(entry.Sequence))
	}
}

// isDuplicate treats a recovery entry whose sequence matches the primary
// reading as a re-delivery of the same sample. Matching is by sequence
// alone; backfilled timestamps drift a few seconds from the live one.
func isDuplicate(primary, entry model.Reading) bool {
	return primary.Sequence != nil && entry.Sequence != nil &&
		*primary.Sequence == *entry.Sequence
}

func sequenceOrZero(seq *int) int {
	if seq == nil {
		return 0
	}
	return *seq
}
