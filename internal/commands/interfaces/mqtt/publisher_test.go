package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	commandsevents "hydroponics-cloud/internal/commands/application/events"
	"hydroponics-cloud/internal/eventing"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func waitForMessages(t *testing.T, client *fakeClient, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := client.sent(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %d", n, len(client.sent()))
	return nil
}

func runPublisher(t *testing.T, pub *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pub.Run(ctx)
}

func TestPublisherForwardsStartAndStop(t *testing.T) {
	client := &fakeClient{}
	pub, err := NewPublisher(client, "/devices/", 1, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	pub.Register(bus)
	runPublisher(t, pub)

	ctx := context.Background()
	_ = bus.Publish(ctx, commandsevents.ActuatorCommandIssued{GroupID: "g1", CommandID: "c1", DeviceID: "1pump", Action: "increase_pH", Magnitude: 2.5})
	_ = bus.Publish(ctx, commandsevents.StopCommandIssued{GroupID: "g1", StopID: "s1", DeviceID: "1pump", Action: "increase_pH"})

	messages := waitForMessages(t, client, 2)
	if messages[0].topic != "devices/1pump/commands" {
		t.Fatalf("unexpected topic %q", messages[0].topic)
	}
	var start DeviceMessage
	if err := json.Unmarshal(messages[0].payload, &start); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if start.Type != "start" || start.Magnitude != 2.5 || start.Action != "increase_pH" {
		t.Fatalf("unexpected start message %+v", start)
	}
	var stop DeviceMessage
	_ = json.Unmarshal(messages[1].payload, &stop)
	if stop.Type != "stop" || stop.CommandID != "s1" {
		t.Fatalf("unexpected stop message %+v", stop)
	}
}

func TestPublisherBrokerErrorDoesNotFailIssuer(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	pub, _ := NewPublisher(client, "devices", 0, nil)
	bus := eventing.NewInMemoryBus()
	pub.Register(bus)
	runPublisher(t, pub)

	ctx := context.Background()
	if err := bus.Publish(ctx, commandsevents.ActuatorCommandIssued{DeviceID: "2pump", Action: "increase_water_level"}); err != nil {
		t.Fatalf("broker errors must not reach the issuer: %v", err)
	}
	if err := bus.Publish(ctx, commandsevents.StopCommandIssued{DeviceID: "2pump", Action: "increase_water_level"}); err != nil {
		t.Fatalf("broker errors must not reach the issuer: %v", err)
	}
	waitForMessages(t, client, 2)
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	client := &fakeClient{}
	pub, _ := NewPublisher(client, "devices", 0, nil)
	for i := 0; i < queueSize+5; i++ {
		if err := pub.HandleActuatorCommandIssued(context.Background(), commandsevents.ActuatorCommandIssued{DeviceID: "1pump", Action: "increase_pH"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if pub.Pending() != queueSize {
		t.Fatalf("expected a bounded queue of %d, got %d", queueSize, pub.Pending())
	}
	if len(client.sent()) != 0 {
		t.Fatal("nothing is published before Run")
	}
}
