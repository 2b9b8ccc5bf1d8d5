package application

import (
	"context"
	"errors"
	"testing"
	"time"

	commandsevents "hydroponics-cloud/internal/commands/application/events"
	commands "hydroponics-cloud/internal/commands/domain"
	"hydroponics-cloud/internal/commands/infrastructure/memory"
)

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *memory.Repository, *recordingPublisher, *fakeClock) {
	t.Helper()
	repo := memory.NewRepository()
	pub := &recordingPublisher{}
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(repo, pub, WithClock(clock))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo, pub, clock
}

func startRequest() StartRequest {
	return StartRequest{
		UserID:     "u1",
		GroupID:    "g1",
		DeviceID:   "1pump",
		DeviceType: "nutrient_pump",
		Parameter:  "ph",
		Action:     "increase_pH",
		Magnitude:  2.5,
	}
}

func TestIssueActuatorCommandDeduplicates(t *testing.T) {
	svc, repo, pub, _ := newTestService(t)
	ctx := context.Background()

	_, written, err := svc.IssueActuatorCommand(ctx, startRequest())
	if err != nil || !written {
		t.Fatalf("first issue: written=%v err=%v", written, err)
	}
	_, written, err = svc.IssueActuatorCommand(ctx, startRequest())
	if err != nil || written {
		t.Fatalf("duplicate should be a no-op: written=%v err=%v", written, err)
	}

	active, _ := repo.ListActive(ctx, "u1", "g1")
	if len(active) != 1 || active[0].Magnitude != 2.5 {
		t.Fatalf("unexpected active commands %+v", active)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected a single issued event, got %d", len(pub.events))
	}
	if _, ok := pub.events[0].(commandsevents.ActuatorCommandIssued); !ok {
		t.Fatalf("unexpected event %#v", pub.events[0])
	}
}

func TestIssueActuatorCommandValidates(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	req := startRequest()
	req.GroupID = ""
	if _, _, err := svc.IssueActuatorCommand(context.Background(), req); !errors.Is(err, commands.ErrMissingIdentifiers) {
		t.Fatalf("expected ErrMissingIdentifiers, got %v", err)
	}
	req = startRequest()
	req.DeviceID = ""
	if _, _, err := svc.IssueActuatorCommand(context.Background(), req); !errors.Is(err, commands.ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestIssueStopWritesMarkerAndClearsActive(t *testing.T) {
	svc, repo, pub, clock := newTestService(t)
	ctx := context.Background()
	_, _, _ = svc.IssueActuatorCommand(ctx, startRequest())

	stop, err := svc.IssueStop(ctx, StopRequest{UserID: "u1", GroupID: "g1", DeviceID: "1pump", DeviceType: "nutrient_pump", Action: "increase_pH"})
	if err != nil {
		t.Fatalf("issue stop: %v", err)
	}
	if !stop.ExpiresAt.Equal(clock.now.Add(DefaultStopMarkerTTL)) {
		t.Fatalf("unexpected expiry %s", stop.ExpiresAt)
	}
	active, _ := repo.ListActive(ctx, "u1", "g1")
	if len(active) != 0 {
		t.Fatalf("active command should be removed, got %+v", active)
	}
	stops, _ := repo.ListStops(ctx, "u1", "g1")
	if len(stops) != 1 {
		t.Fatalf("expected one stop marker, got %d", len(stops))
	}
	if _, ok := pub.events[len(pub.events)-1].(commandsevents.StopCommandIssued); !ok {
		t.Fatalf("expected StopCommandIssued, got %#v", pub.events[len(pub.events)-1])
	}

	// the slot is free again
	if _, written, _ := svc.IssueActuatorCommand(ctx, startRequest()); !written {
		t.Fatal("expected start to be written after stop")
	}
}

func TestExpireStopMarkerOnce(t *testing.T) {
	svc, repo, pub, _ := newTestService(t)
	ctx := context.Background()
	stop, _ := svc.IssueStop(ctx, StopRequest{UserID: "u1", GroupID: "g1", DeviceID: "1pump", DeviceType: "nutrient_pump", Action: "increase_pH"})

	deleted, err := svc.ExpireStopMarker(ctx, *stop)
	if err != nil || !deleted {
		t.Fatalf("expire: deleted=%v err=%v", deleted, err)
	}
	deleted, err = svc.ExpireStopMarker(ctx, *stop)
	if err != nil || deleted {
		t.Fatalf("second expire should be a no-op: deleted=%v err=%v", deleted, err)
	}
	stops, _ := repo.ListStops(ctx, "u1", "g1")
	if len(stops) != 0 {
		t.Fatal("stop marker should be gone")
	}
	expired := 0
	for _, evt := range pub.events {
		if _, ok := evt.(commandsevents.StopMarkerExpired); ok {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expected one StopMarkerExpired, got %d", expired)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()
	_, _ = svc.IssueStop(ctx, StopRequest{UserID: "u1", GroupID: "g1", DeviceType: "water_pump", Action: "increase_water_level"})

	if n, _ := svc.SweepExpired(ctx); n != 0 {
		t.Fatalf("nothing should expire yet, swept %d", n)
	}
	clock.now = clock.now.Add(11 * time.Second)
	if n, err := svc.SweepExpired(ctx); err != nil || n != 1 {
		t.Fatalf("expected one swept marker, got %d err %v", n, err)
	}
	stops, _ := repo.ListStops(ctx, "u1", "g1")
	if len(stops) != 0 {
		t.Fatal("stop marker should be swept")
	}
}

func TestClearActivePublishes(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	ctx := context.Background()
	cmd, _, _ := svc.IssueActuatorCommand(ctx, startRequest())

	cleared, err := svc.ClearActive(ctx, cmd.Key())
	if err != nil || !cleared {
		t.Fatalf("clear: cleared=%v err=%v", cleared, err)
	}
	if _, ok := pub.events[len(pub.events)-1].(commandsevents.ActuatorCommandCleared); !ok {
		t.Fatalf("expected ActuatorCommandCleared, got %#v", pub.events[len(pub.events)-1])
	}
	if cleared, _ := svc.ClearActive(ctx, cmd.Key()); cleared {
		t.Fatal("second clear should report false")
	}
}

func TestStoreFailureSurfaces(t *testing.T) {
	svc, repo, pub, _ := newTestService(t)
	repo.FailWrites = errors.New("db down")
	if _, _, err := svc.IssueActuatorCommand(context.Background(), startRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.events) != 0 {
		t.Fatal("no event on failed write")
	}
}

type failingPublisher struct {
	attempts int
}

func (p *failingPublisher) Publish(context.Context, any) error {
	p.attempts++
	return errors.New("broker unreachable")
}

func TestDeliveryFailureDoesNotFailStoredWrites(t *testing.T) {
	repo := memory.NewRepository()
	pub := &failingPublisher{}
	svc, err := NewService(repo, pub)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	cmd, written, err := svc.IssueActuatorCommand(ctx, startRequest())
	if err != nil || !written || cmd == nil {
		t.Fatalf("stored start must succeed: cmd=%v written=%v err=%v", cmd, written, err)
	}
	stop, err := svc.IssueStop(ctx, StopRequest{
		UserID: "u1", GroupID: "g1", DeviceID: "1pump", DeviceType: "nutrient_pump", Action: "increase_pH",
	})
	if err != nil || stop == nil {
		t.Fatalf("stored stop must succeed: %v", err)
	}
	deleted, err := svc.ExpireStopMarker(ctx, *stop)
	if err != nil || !deleted {
		t.Fatalf("expire must succeed: deleted=%v err=%v", deleted, err)
	}
	if pub.attempts != 3 {
		t.Fatalf("expected every event to be attempted, got %d", pub.attempts)
	}
	if active, _ := repo.ListActive(ctx, "u1", "g1"); len(active) != 0 {
		t.Fatalf("unexpected active commands %+v", active)
	}
}
