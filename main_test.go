package main

import (
	"context"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerthttp "hydroponics-cloud/internal/alerts/interfaces/http"
	commandsevents "hydroponics-cloud/internal/commands/application/events"
	commandsmqtt "hydroponics-cloud/internal/commands/interfaces/mqtt"
	"hydroponics-cloud/internal/eventing"
)

type idleToken struct{}

func (idleToken) Wait() bool                     { return true }
func (idleToken) WaitTimeout(time.Duration) bool { return true }
func (idleToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (idleToken) Error() error                   { return nil }

type discardClient struct{}

func (discardClient) Publish(string, byte, bool, any) paho.Token { return idleToken{} }

type handlerSnapshot struct {
	bus    *eventing.InMemoryBus
	counts map[string]int
}

func (h *handlerSnapshot) Start(context.Context) error {
	h.counts = map[string]int{}
	for _, eventType := range []string{
		eventing.EventTypeOf[alertevents.AlertRaised](),
		eventing.EventTypeOf[commandsevents.ActuatorCommandIssued](),
		eventing.EventTypeOf[commandsevents.StopCommandIssued](),
	} {
		h.counts[eventType] = h.bus.HandlerCount(eventType)
	}
	return nil
}

func TestStartAlertingRegistersSubscribersFirst(t *testing.T) {
	bus := eventing.NewInMemoryBus()
	publisher, err := commandsmqtt.NewPublisher(discardClient{}, "devices", 0, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	sessions := &handlerSnapshot{bus: bus}

	if err := startAlerting(context.Background(), bus, sessions, alerthttp.NewBroker(), publisher); err != nil {
		t.Fatalf("start alerting: %v", err)
	}

	for eventType, count := range sessions.counts {
		if count == 0 {
			t.Fatalf("no %s subscriber when sessions started", eventType)
		}
	}
}
