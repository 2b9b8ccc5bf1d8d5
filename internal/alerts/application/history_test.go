package application

import (
	"context"
	"testing"
	"time"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	alertsmemory "hydroponics-cloud/internal/alerts/infrastructure/memory"
	"hydroponics-cloud/internal/eventing"
)

func TestHistoryRecorderStoresAlertChanges(t *testing.T) {
	bus := eventing.NewInMemoryBus()
	repo := alertsmemory.NewHistoryRepository()
	recorder, err := NewHistoryRecorder(repo, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Register(bus)
	ctx := context.Background()

	raised := alertevents.AlertRaised{
		UserID: "u1", GroupID: "g1", Parameter: "ph", Action: "increase_pH",
		Message: "pH is 4, target 6.5: increase_pH by 2.5", Current: 4, Target: 6.5, Magnitude: 2.5,
		Severity: "action", OccurredAt: testNow,
	}
	if err := bus.Publish(ctx, raised); err != nil {
		t.Fatalf("publish raised: %v", err)
	}
	cleared := alertevents.AlertCleared{UserID: "u1", GroupID: "g1", Parameter: "ph", Action: "increase_pH", OccurredAt: testNow.Add(time.Minute)}
	if err := bus.Publish(ctx, cleared); err != nil {
		t.Fatalf("publish cleared: %v", err)
	}

	history, err := recorder.History(ctx, "u1", "g1", testNow.Add(-time.Hour), testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Event != alerts.HistoryRaised || history[0].Magnitude != 2.5 || history[1].Event != alerts.HistoryCleared {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestHistoryRecorderUsesEnvelopeID(t *testing.T) {
	repo := alertsmemory.NewHistoryRepository()
	recorder, _ := NewHistoryRecorder(repo, nil)
	ctx := eventing.WithEnvelope(context.Background(), eventing.Envelope{EventID: "evt-1"})
	evt := alertevents.AlertCleared{UserID: "u1", GroupID: "g1", Parameter: "ec", OccurredAt: testNow}

	for i := 0; i < 2; i++ {
		if err := recorder.HandleAlertCleared(ctx, evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	history, _ := recorder.History(context.Background(), "u1", "g1", testNow, testNow.Add(time.Second))
	if len(history) != 1 || history[0].ID != "evt-1" {
		t.Fatalf("redelivery should be idempotent, got %+v", history)
	}
}

func TestHistoryRejectsBadRange(t *testing.T) {
	recorder, _ := NewHistoryRecorder(alertsmemory.NewHistoryRepository(), nil)
	if _, err := recorder.History(context.Background(), "u1", "g1", testNow, testNow); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := recorder.History(context.Background(), "", "g1", testNow, testNow.Add(time.Hour)); err == nil {
		t.Fatal("expected missing id error")
	}
}
