package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	commandsapp "hydroponics-cloud/internal/commands/application"
	commandevents "hydroponics-cloud/internal/commands/application/events"
	commands "hydroponics-cloud/internal/commands/domain"
	"hydroponics-cloud/internal/commands/infrastructure/memory"
	"hydroponics-cloud/internal/eventing"
	masterdataevents "hydroponics-cloud/internal/masterdata/application/events"
	masterdata "hydroponics-cloud/internal/masterdata/domain"
	sensorevents "hydroponics-cloud/internal/sensors/application/events"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

type fakeSnapshots struct {
	mu      sync.Mutex
	reading *sensors.Reading
	target  *sensors.ControlTarget
}

func (f *fakeSnapshots) LatestReading(_ context.Context, _, _ string) (*sensors.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reading == nil {
		return nil, sensors.ErrNotFound
	}
	r := *f.reading
	return &r, nil
}

func (f *fakeSnapshots) GetTargets(_ context.Context, _, _ string) (*sensors.ControlTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.target == nil {
		return nil, sensors.ErrNotFound
	}
	t := *f.target
	return &t, nil
}

type fakeDevices struct {
	mu      sync.Mutex
	devices []masterdata.Device
}

func (f *fakeDevices) set(devices ...masterdata.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

func (f *fakeDevices) DeviceLookup(_ context.Context, _, _ string) (masterdata.DeviceLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return masterdata.NewDeviceLookup(f.devices), nil
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{d: d, f: fn}
	f.timers = append(f.timers, timer)
	return timer
}

func (f *fakeTimers) all() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTimer(nil), f.timers...)
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *eventCounter) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[eventType]
}

func countEvents(bus eventing.Bus, types ...string) *eventCounter {
	counter := &eventCounter{counts: make(map[string]int)}
	for _, eventType := range types {
		eventType := eventType
		bus.Subscribe(eventType, func(context.Context, any) error {
			counter.mu.Lock()
			counter.counts[eventType]++
			counter.mu.Unlock()
			return nil
		})
	}
	return counter
}

type sessionFixture struct {
	bus       *eventing.InMemoryBus
	repo      *memory.Repository
	commands  *commandsapp.Service
	snapshots *fakeSnapshots
	devices   *fakeDevices
	timers    *fakeTimers
	events    *eventCounter
	session   *Session
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	bus := eventing.NewInMemoryBus()
	repo := memory.NewRepository()
	svc, err := commandsapp.NewService(repo, bus)
	if err != nil {
		t.Fatalf("commands service: %v", err)
	}
	f := &sessionFixture{
		bus:       bus,
		repo:      repo,
		commands:  svc,
		snapshots: &fakeSnapshots{target: &sensors.ControlTarget{UserID: "u1", GroupID: "g1", PHTarget: 6.5, Mode: sensors.ModeAuto}},
		devices:   &fakeDevices{},
		timers:    &fakeTimers{},
		events: countEvents(bus,
			eventing.EventTypeOf[commandevents.ActuatorCommandIssued](),
			eventing.EventTypeOf[commandevents.StopCommandIssued](),
			eventing.EventTypeOf[commandevents.StopMarkerExpired](),
		),
	}
	f.devices.set(masterdata.Device{DeviceID: "1nutrient"}, masterdata.Device{DeviceID: "2water"})
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	session, err := NewSession("u1", "g1", Dependencies{
		Bus:       f.bus,
		Snapshots: f.snapshots,
		Devices:   f.devices,
		Commands:  f.commands,
		Profile:   phOnlyProfile(t),
		StopTTL:   10 * time.Second,
		AfterFunc: f.timers.AfterFunc,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(context.Background())
	t.Cleanup(session.Stop)
	f.session = session
	f.sync(t)
}

// sync waits until every event queued so far has been reduced.
func (f *sessionFixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.session.ActiveAlerts(ctx); err != nil {
		t.Fatalf("sync session: %v", err)
	}
}

func (f *sessionFixture) publishPH(t *testing.T, userID, groupID string, ph float64) {
	t.Helper()
	err := f.bus.Publish(context.Background(), sensorevents.SensorReadingRecorded{
		UserID:    userID,
		GroupID:   groupID,
		ReadingID: eventing.NewEventID(),
		Timestamp: testNow,
		Values:    map[string]any{sensors.FieldPH: ph},
	})
	if err != nil {
		t.Fatalf("publish reading: %v", err)
	}
	f.sync(t)
}

func (f *sessionFixture) active(t *testing.T) []commands.ActuatorCommand {
	t.Helper()
	list, err := f.repo.ListActive(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	return list
}

func (f *sessionFixture) stops(t *testing.T) []commands.StopCommand {
	t.Helper()
	list, err := f.repo.ListStops(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("list stops: %v", err)
	}
	return list
}

func phOnlyProfile(t *testing.T) *alerts.Profile {
	t.Helper()
	profile := alerts.DefaultProfile()
	kept := profile.Rules[:0]
	for _, rule := range profile.Rules {
		if rule.Parameter == sensors.FieldPH {
			kept = append(kept, rule)
		}
	}
	profile.Rules = kept
	return profile
}

func TestSessionStartsAndStopsOnce(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)
	issued := eventing.EventTypeOf[commandevents.ActuatorCommandIssued]()
	stopped := eventing.EventTypeOf[commandevents.StopCommandIssued]()
	expired := eventing.EventTypeOf[commandevents.StopMarkerExpired]()

	f.publishPH(t, "u1", "g1", 4.0)
	f.publishPH(t, "u1", "g1", 4.0)

	active := f.active(t)
	if len(active) != 1 || active[0].Action != "increase_pH" || active[0].Magnitude != 2.5 || active[0].DeviceID != "1nutrient" {
		t.Fatalf("unexpected active commands %+v", active)
	}
	if got := f.events.count(issued); got != 1 {
		t.Fatalf("expected one issued command, got %d", got)
	}
	current, _ := f.session.ActiveAlerts(context.Background())
	if len(current) != 1 || current[0].TriggeredAction != "increase_pH" {
		t.Fatalf("unexpected alerts %+v", current)
	}

	f.publishPH(t, "u1", "g1", 6.4)
	f.publishPH(t, "u1", "g1", 6.4)

	if len(f.active(t)) != 0 {
		t.Fatal("active command should be deleted on clear")
	}
	if got := f.events.count(stopped); got != 1 {
		t.Fatalf("expected exactly one stop, got %d", got)
	}
	if len(f.stops(t)) != 1 {
		t.Fatal("stop marker should exist until it expires")
	}

	timers := f.timers.all()
	if len(timers) != 1 || timers[0].d != 10*time.Second {
		t.Fatalf("expected one 10s stop marker task, got %+v", timers)
	}
	timers[0].f()
	f.sync(t)

	if len(f.stops(t)) != 0 {
		t.Fatal("stop marker should be deleted after its delay")
	}
	if got := f.events.count(expired); got != 1 {
		t.Fatalf("expected one expiry, got %d", got)
	}
	if f.session.PendingStopMarkers() != 0 {
		t.Fatal("no tasks should remain")
	}
}

func TestSessionStopCancelsPendingTasks(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.publishPH(t, "u1", "g1", 4.0)
	f.publishPH(t, "u1", "g1", 6.5)
	if f.session.PendingStopMarkers() != 1 {
		t.Fatalf("expected a pending stop marker task, got %d", f.session.PendingStopMarkers())
	}

	f.session.Stop()

	timers := f.timers.all()
	if len(timers) != 1 || !timers[0].stopped {
		t.Fatal("teardown should cancel the stop marker task")
	}
	// a timer that fires anyway must not write
	timers[0].f()
	if len(f.stops(t)) != 1 {
		t.Fatal("no write may happen after teardown")
	}
	if n := f.bus.HandlerCount(eventing.EventTypeOf[sensorevents.SensorReadingRecorded]()); n != 0 {
		t.Fatalf("teardown should unsubscribe, %d handlers left", n)
	}
	if _, err := f.session.ActiveAlerts(context.Background()); err == nil {
		t.Fatal("stopped session should not answer")
	}

	if err := f.bus.Publish(context.Background(), sensorevents.SensorReadingRecorded{
		UserID: "u1", GroupID: "g1", Values: map[string]any{sensors.FieldPH: 4.0},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(f.active(t)) != 0 {
		t.Fatal("stopped session must not issue commands")
	}
}

func TestSessionLoadsSnapshotAndActiveCommands(t *testing.T) {
	f := newSessionFixture(t)
	f.snapshots.reading = &sensors.Reading{UserID: "u1", GroupID: "g1", Values: map[string]any{sensors.FieldPH: 6.5}}
	_, written, err := f.commands.IssueActuatorCommand(context.Background(), commandsapp.StartRequest{
		UserID: "u1", GroupID: "g1", DeviceID: "1nutrient", DeviceType: string(masterdata.RoleNutrientPump),
		Parameter: sensors.FieldPH, Action: "increase_pH", Magnitude: 1,
	})
	if err != nil || !written {
		t.Fatalf("seed command: %v", err)
	}

	f.start(t)

	if len(f.active(t)) != 0 {
		t.Fatal("outstanding command from before the session should be stopped once the reading is in range")
	}
	if got := f.events.count(eventing.EventTypeOf[commandevents.StopCommandIssued]()); got != 1 {
		t.Fatalf("expected one stop, got %d", got)
	}
}

func TestSessionExternalClearReissues(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)
	f.publishPH(t, "u1", "g1", 4.0)

	cleared, err := f.commands.ClearActive(context.Background(), commands.Key{
		UserID: "u1", GroupID: "g1", DeviceType: string(masterdata.RoleNutrientPump), Action: "increase_pH",
	})
	if err != nil || !cleared {
		t.Fatalf("clear active: %v %v", cleared, err)
	}
	f.sync(t)

	f.publishPH(t, "u1", "g1", 4.0)
	if got := f.events.count(eventing.EventTypeOf[commandevents.ActuatorCommandIssued]()); got != 2 {
		t.Fatalf("expected the command to be re-issued, got %d issues", got)
	}
	if len(f.active(t)) != 1 {
		t.Fatal("expected one active command")
	}
}

func TestSessionIgnoresOtherGroups(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)
	f.publishPH(t, "u1", "g2", 4.0)
	f.publishPH(t, "u2", "g1", 4.0)
	if got := f.events.count(eventing.EventTypeOf[commandevents.ActuatorCommandIssued]()); got != 0 {
		t.Fatalf("foreign readings should be ignored, got %d", got)
	}
}

func TestSessionWaitsForDeviceRegistration(t *testing.T) {
	f := newSessionFixture(t)
	f.devices.set()
	f.start(t)

	f.publishPH(t, "u1", "g1", 4.0)
	if len(f.active(t)) != 0 {
		t.Fatal("no command without a mapped device")
	}

	f.devices.set(masterdata.Device{DeviceID: "1nutrient"})
	if err := f.bus.Publish(context.Background(), masterdataevents.DeviceRegistered{UserID: "u1", GroupID: "g1", DeviceID: "1nutrient"}); err != nil {
		t.Fatalf("publish device: %v", err)
	}
	f.sync(t)

	f.publishPH(t, "u1", "g1", 4.0)
	if active := f.active(t); len(active) != 1 || active[0].DeviceID != "1nutrient" {
		t.Fatalf("expected command after registration, got %+v", active)
	}
}

func TestSessionTargetChangeReevaluates(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)
	f.publishPH(t, "u1", "g1", 5.0)
	if len(f.active(t)) != 1 {
		t.Fatal("expected a command for ph 5 against 6.5")
	}

	target := sensors.ControlTarget{UserID: "u1", GroupID: "g1", PHTarget: 5.2, Mode: sensors.ModeAuto}
	if err := f.bus.Publish(context.Background(), sensorevents.ControlTargetChanged{UserID: "u1", GroupID: "g1", Target: target}); err != nil {
		t.Fatalf("publish target: %v", err)
	}
	f.sync(t)

	if len(f.active(t)) != 0 {
		t.Fatal("new target within tolerance should stop the command")
	}
}

func (f *sessionFixture) slotState(role masterdata.Role, action string) commands.State {
	return f.session.lifecycle.State(commands.Key{UserID: "u1", GroupID: "g1", DeviceType: string(role), Action: action})
}

type stopRecorder struct {
	mu    sync.Mutex
	stops []commandevents.StopCommandIssued
}

func (r *stopRecorder) devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.stops))
	for _, stop := range r.stops {
		ids = append(ids, stop.DeviceID)
	}
	return ids
}

func recordStops(bus eventing.Bus) *stopRecorder {
	recorder := &stopRecorder{}
	eventing.SubscribeTyped(bus, func(_ context.Context, e commandevents.StopCommandIssued) error {
		recorder.mu.Lock()
		recorder.stops = append(recorder.stops, e)
		recorder.mu.Unlock()
		return nil
	})
	return recorder
}

func TestSessionDeliveryFailureKeepsStartStopPairing(t *testing.T) {
	f := newSessionFixture(t)
	unreachable := func(context.Context, any) error { return errors.New("broker unreachable") }
	f.bus.Subscribe(eventing.EventTypeOf[commandevents.ActuatorCommandIssued](), unreachable)
	f.bus.Subscribe(eventing.EventTypeOf[commandevents.StopCommandIssued](), unreachable)
	f.start(t)

	f.publishPH(t, "u1", "g1", 4.0)
	if len(f.active(t)) != 1 {
		t.Fatal("expected one active command after the breach")
	}
	if got := f.slotState(masterdata.RoleNutrientPump, "increase_pH"); got != commands.StateActive {
		t.Fatalf("expected active slot, got %s", got)
	}

	f.publishPH(t, "u1", "g1", 6.4)
	if len(f.active(t)) != 0 || len(f.stops(t)) != 1 {
		t.Fatalf("expected one stop and no active command after clear, active=%d stops=%d", len(f.active(t)), len(f.stops(t)))
	}
	if got := f.events.count(eventing.EventTypeOf[commandevents.StopCommandIssued]()); got != 1 {
		t.Fatalf("expected exactly one stop, got %d", got)
	}
	timers := f.timers.all()
	if len(timers) != 1 {
		t.Fatalf("expected the stop marker task, got %d", len(timers))
	}
	timers[0].f()
	f.sync(t)
	if len(f.stops(t)) != 0 {
		t.Fatal("stop marker should expire")
	}
	if got := f.slotState(masterdata.RoleNutrientPump, "increase_pH"); got != commands.StateIdle {
		t.Fatalf("expected idle slot, got %s", got)
	}
}

func TestSessionRebreachWhileStoppingStaysActive(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t)

	f.publishPH(t, "u1", "g1", 4.0)
	f.publishPH(t, "u1", "g1", 6.4)
	if got := f.slotState(masterdata.RoleNutrientPump, "increase_pH"); got != commands.StateStopping {
		t.Fatalf("expected stopping slot, got %s", got)
	}

	f.publishPH(t, "u1", "g1", 4.0)
	if got := f.slotState(masterdata.RoleNutrientPump, "increase_pH"); got != commands.StateActive {
		t.Fatalf("re-breach should re-activate the slot, got %s", got)
	}
	if got := f.events.count(eventing.EventTypeOf[commandevents.ActuatorCommandIssued]()); got != 2 {
		t.Fatalf("expected the start to be re-issued, got %d", got)
	}

	timers := f.timers.all()
	if len(timers) != 1 {
		t.Fatalf("expected one stop marker task, got %d", len(timers))
	}
	timers[0].f()
	f.sync(t)

	if len(f.stops(t)) != 0 {
		t.Fatal("stop marker should be deleted")
	}
	if got := f.slotState(masterdata.RoleNutrientPump, "increase_pH"); got != commands.StateActive {
		t.Fatalf("marker expiry must not idle a re-activated slot, got %s", got)
	}
	if active := f.active(t); len(active) != 1 {
		t.Fatalf("re-issued command must survive marker expiry, got %+v", active)
	}
}

func TestSessionDeviceRemovalMovesActiveAction(t *testing.T) {
	f := newSessionFixture(t)
	stops := recordStops(f.bus)
	f.start(t)
	f.publishPH(t, "u1", "g1", 4.0)

	f.devices.set(masterdata.Device{DeviceID: "1spare"}, masterdata.Device{DeviceID: "2water"})
	if err := f.bus.Publish(context.Background(), masterdataevents.DeviceRemoved{UserID: "u1", GroupID: "g1", DeviceID: "1nutrient"}); err != nil {
		t.Fatalf("publish removal: %v", err)
	}
	f.sync(t)

	if got := stops.devices(); len(got) != 1 || got[0] != "1nutrient" {
		t.Fatalf("removed device should be stopped once, got %v", got)
	}
	active := f.active(t)
	if len(active) != 1 || active[0].DeviceID != "1spare" {
		t.Fatalf("action should move to the remaining pump, got %+v", active)
	}

	f.publishPH(t, "u1", "g1", 6.5)
	if got := stops.devices(); len(got) != 2 || got[1] != "1spare" {
		t.Fatalf("clear should stop the current pump, got %v", got)
	}
}

func TestSessionDeviceRemovalWithoutReplacement(t *testing.T) {
	f := newSessionFixture(t)
	stops := recordStops(f.bus)
	f.start(t)
	f.publishPH(t, "u1", "g1", 4.0)

	f.devices.set(masterdata.Device{DeviceID: "2water"})
	if err := f.bus.Publish(context.Background(), masterdataevents.DeviceRemoved{UserID: "u1", GroupID: "g1", DeviceID: "1nutrient"}); err != nil {
		t.Fatalf("publish removal: %v", err)
	}
	f.sync(t)

	if len(f.active(t)) != 0 {
		t.Fatal("no command may stay on a removed device")
	}
	f.publishPH(t, "u1", "g1", 6.5)
	if got := stops.devices(); len(got) != 1 {
		t.Fatalf("expected only the removal stop, got %v", got)
	}
}

func TestSessionAlertReportsCommandState(t *testing.T) {
	f := newSessionFixture(t)
	var mu sync.Mutex
	var raised []alertevents.AlertRaised
	eventing.SubscribeTyped(f.bus, func(_ context.Context, e alertevents.AlertRaised) error {
		mu.Lock()
		raised = append(raised, e)
		mu.Unlock()
		return nil
	})
	f.start(t)

	f.publishPH(t, "u1", "g1", 4.0)
	f.publishPH(t, "u1", "g1", 6.5)
	manual := sensors.ControlTarget{UserID: "u1", GroupID: "g1", PHTarget: 6.5, Mode: sensors.ModeManual}
	if err := f.bus.Publish(context.Background(), sensorevents.ControlTargetChanged{UserID: "u1", GroupID: "g1", Target: manual}); err != nil {
		t.Fatalf("publish target: %v", err)
	}
	f.publishPH(t, "u1", "g1", 4.0)

	mu.Lock()
	defer mu.Unlock()
	if len(raised) != 2 {
		t.Fatalf("expected two raised alerts, got %d", len(raised))
	}
	if !raised[0].CommandActive {
		t.Fatal("auto mode alert should report the issued command")
	}
	if raised[1].CommandActive {
		t.Fatal("manual mode alert must not claim a command")
	}
}
