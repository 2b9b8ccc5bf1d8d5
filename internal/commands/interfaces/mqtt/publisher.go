package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	commandsevents "hydroponics-cloud/internal/commands/application/events"
	"hydroponics-cloud/internal/eventing"
)

// Client is the subset of the paho client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// DeviceMessage is the JSON body sent to a device command topic.
type DeviceMessage struct {
	Type      string    `json:"type"`
	CommandID string    `json:"commandId"`
	GroupID   string    `json:"groupId"`
	Action    string    `json:"action"`
	Magnitude float64   `json:"magnitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

const queueSize = 64

type outbound struct {
	deviceID string
	msg      DeviceMessage
}

// Publisher forwards issued start and stop commands to devices. Bus handlers only enqueue; Run
// talks to the broker, in issue order.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
	queue   chan outbound
}

// NewPublisher constructs a device command publisher.
func NewPublisher(client Client, prefix string, qos byte, logger *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("mqtt publisher: nil client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "devices"
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		timeout: 5 * time.Second,
		logger:  logger,
		queue:   make(chan outbound, queueSize),
	}, nil
}

// Register subscribes the publisher to command events.
func (p *Publisher) Register(bus eventing.Bus) []eventing.Unsubscribe {
	return []eventing.Unsubscribe{
		eventing.SubscribeTyped(bus, p.HandleActuatorCommandIssued),
		eventing.SubscribeTyped(bus, p.HandleStopCommandIssued),
	}
}

// Run publishes queued device messages until ctx is done. Broker failures are logged and the
// message is dropped.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-p.queue:
			_ = p.publish(out.deviceID, out.msg)
		}
	}
}

// Pending returns the number of queued device messages.
func (p *Publisher) Pending() int {
	return len(p.queue)
}

// Topic returns the command topic of a device.
func (p *Publisher) Topic(deviceID string) string {
	return p.prefix + "/" + deviceID + "/commands"
}

// HandleActuatorCommandIssued queues a start message.
func (p *Publisher) HandleActuatorCommandIssued(_ context.Context, evt commandsevents.ActuatorCommandIssued) error {
	p.enqueue(evt.DeviceID, DeviceMessage{
		Type:      "start",
		CommandID: evt.CommandID,
		GroupID:   evt.GroupID,
		Action:    evt.Action,
		Magnitude: evt.Magnitude,
		Timestamp: evt.OccurredAt,
	})
	return nil
}

// HandleStopCommandIssued queues a stop message.
func (p *Publisher) HandleStopCommandIssued(_ context.Context, evt commandsevents.StopCommandIssued) error {
	p.enqueue(evt.DeviceID, DeviceMessage{
		Type:      "stop",
		CommandID: evt.StopID,
		GroupID:   evt.GroupID,
		Action:    evt.Action,
		Timestamp: evt.OccurredAt,
		ExpiresAt: evt.ExpiresAt,
	})
	return nil
}

func (p *Publisher) enqueue(deviceID string, msg DeviceMessage) {
	select {
	case p.queue <- outbound{deviceID: deviceID, msg: msg}:
	default:
		p.logger.Warn("device command queue full, dropping",
			zap.String("device_id", deviceID), zap.String("type", msg.Type), zap.String("action", msg.Action))
	}
}

func (p *Publisher) publish(deviceID string, msg DeviceMessage) error {
	if deviceID == "" {
		p.logger.Warn("device command without device id", zap.String("action", msg.Action))
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := p.Topic(deviceID)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warn("device command publish timed out", zap.String("topic", topic))
		return fmt.Errorf("mqtt publisher: publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("device command publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	p.logger.Debug("device command published",
		zap.String("topic", topic),
		zap.String("type", msg.Type),
		zap.String("action", msg.Action))
	return nil
}
