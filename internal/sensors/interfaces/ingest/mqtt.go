package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/observability/metrics"
)

// Bridge subscribes to sensor topics and records every message as a reading.
type Bridge struct {
	client   mqtt.Client
	topic    string
	qos      byte
	timeout  time.Duration
	recorder Recorder
	logger   *zap.Logger
}

// NewBridge constructs an MQTT ingest bridge.
func NewBridge(client mqtt.Client, topic string, qos byte, recorder Recorder, logger *zap.Logger) (*Bridge, error) {
	if client == nil {
		return nil, errors.New("mqtt bridge: nil client")
	}
	if recorder == nil {
		return nil, errors.New("mqtt bridge: nil recorder")
	}
	if topic == "" {
		return nil, errors.New("mqtt bridge: empty topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client:   client,
		topic:    topic,
		qos:      qos,
		timeout:  10 * time.Second,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Start subscribes to the sensor topic.
func (b *Bridge) Start() error {
	token := b.client.Subscribe(b.topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		_ = b.HandleMessage(context.Background(), msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("mqtt bridge: subscribe %s timed out", b.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt bridge: subscribe %s: %w", b.topic, err)
	}
	b.logger.Info("mqtt sensor bridge subscribed", zap.String("topic", b.topic))
	return nil
}

// Stop unsubscribes from the sensor topic.
func (b *Bridge) Stop() {
	token := b.client.Unsubscribe(b.topic)
	token.WaitTimeout(b.timeout)
}

// HandleMessage parses and records one message. Failures are logged and the message dropped.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	userID, groupID := TopicIdentifiers(topic)
	reading, err := ParsePayload(payload, userID, groupID)
	if err != nil {
		b.logger.Warn("mqtt payload dropped", zap.String("topic", topic), zap.Error(err))
		metrics.IncIngestError("invalid_payload")
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		return err
	}
	if _, err := b.recorder.RecordReading(ctx, reading); err != nil {
		b.logger.Error("mqtt reading not stored",
			zap.String("topic", topic),
			zap.String("user_id", reading.UserID),
			zap.String("group_id", reading.GroupID),
			zap.Error(err))
		metrics.IncIngestError("store")
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		return err
	}
	metrics.ObserveIngest("mqtt", metrics.ResultSuccess, time.Since(start))
	return nil
}

// TopicIdentifiers extracts user and group ids from <prefix>/{userId}/{groupId}/sensor_data.
func TopicIdentifiers(topic string) (string, string) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-1] != "sensor_data" {
		return "", ""
	}
	return parts[len(parts)-3], parts[len(parts)-2]
}
