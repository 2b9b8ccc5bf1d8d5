package application

import (
	"context"
	"errors"
	"testing"
	"time"

	sensorevents "hydroponics-cloud/internal/sensors/application/events"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

type memReadings struct {
	saved   []sensors.Reading
	saveErr error
}

func (m *memReadings) Save(_ context.Context, reading *sensors.Reading) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *reading)
	return nil
}

func (m *memReadings) Latest(_ context.Context, userID, groupID string) (*sensors.Reading, error) {
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].UserID == userID && m.saved[i].GroupID == groupID {
			r := m.saved[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memReadings) ListRange(_ context.Context, userID, groupID string, from, to time.Time) ([]sensors.Reading, error) {
	var out []sensors.Reading
	for _, r := range m.saved {
		if r.UserID == userID && r.GroupID == groupID && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memTargets struct {
	items map[string]sensors.ControlTarget
}

func (m *memTargets) Get(_ context.Context, userID, groupID string) (*sensors.ControlTarget, error) {
	t, ok := m.items[userID+"/"+groupID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memTargets) Save(_ context.Context, target *sensors.ControlTarget) error {
	if m.items == nil {
		m.items = make(map[string]sensors.ControlTarget)
	}
	m.items[target.UserID+"/"+target.GroupID] = *target
	return nil
}

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestRecordReadingPublishes(t *testing.T) {
	readings := &memReadings{}
	pub := &recordingPublisher{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(readings, &memTargets{}, pub, WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	saved, err := svc.RecordReading(context.Background(), sensors.Reading{
		UserID:  "u1",
		GroupID: "g1",
		Values:  map[string]any{sensors.FieldPH: 4.0},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.ID == "" || !saved.Timestamp.Equal(now) {
		t.Fatalf("expected id and default timestamp, got %+v", saved)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	evt, ok := pub.events[0].(sensorevents.SensorReadingRecorded)
	if !ok || evt.Reading().Number(sensors.FieldPH) != 4 {
		t.Fatalf("unexpected event %#v", pub.events[0])
	}
}

func TestRecordReadingRejectsMissingIdentifiers(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := NewService(&memReadings{}, &memTargets{}, pub)
	_, err := svc.RecordReading(context.Background(), sensors.Reading{GroupID: "g1", Values: map[string]any{"ph": 1}})
	if !errors.Is(err, sensors.ErrMissingIdentifiers) {
		t.Fatalf("expected ErrMissingIdentifiers, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("no event expected")
	}
}

func TestRecordReadingStoreFailureSkipsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := NewService(&memReadings{saveErr: errors.New("db down")}, &memTargets{}, pub)
	_, err := svc.RecordReading(context.Background(), sensors.Reading{UserID: "u", GroupID: "g", Values: map[string]any{"ph": 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pub.events) != 0 {
		t.Fatal("no event expected after store failure")
	}
}

func TestUpdateTargets(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := NewService(&memReadings{}, &memTargets{}, pub)
	ctx := context.Background()

	if _, err := svc.UpdateTargets(ctx, sensors.ControlTarget{UserID: "u", GroupID: "g", Mode: "turbo"}); !errors.Is(err, sensors.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	updated, err := svc.UpdateTargets(ctx, sensors.ControlTarget{UserID: "u", GroupID: "g", PHTarget: 6.5})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Mode != sensors.ModeAuto {
		t.Fatalf("expected auto mode, got %s", updated.Mode)
	}
	got, err := svc.GetTargets(ctx, "u", "g")
	if err != nil || got.PHTarget != 6.5 {
		t.Fatalf("unexpected targets %+v err %v", got, err)
	}
	if _, ok := pub.events[0].(sensorevents.ControlTargetChanged); !ok {
		t.Fatalf("expected ControlTargetChanged, got %#v", pub.events[0])
	}
	if _, err := svc.GetTargets(ctx, "u", "other"); !errors.Is(err, sensors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
