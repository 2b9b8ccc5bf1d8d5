package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	commandsapp "hydroponics-cloud/internal/commands/application"
	commandevents "hydroponics-cloud/internal/commands/application/events"
	commands "hydroponics-cloud/internal/commands/domain"
	"hydroponics-cloud/internal/eventing"
	masterdataevents "hydroponics-cloud/internal/masterdata/application/events"
	masterdata "hydroponics-cloud/internal/masterdata/domain"
	"hydroponics-cloud/internal/observability/metrics"
	sensorevents "hydroponics-cloud/internal/sensors/application/events"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

const sessionQueueSize = 64

// SnapshotSource loads the current reading and targets of a group.
type SnapshotSource interface {
	LatestReading(ctx context.Context, userID, groupID string) (*sensors.Reading, error)
	GetTargets(ctx context.Context, userID, groupID string) (*sensors.ControlTarget, error)
}

// DeviceSource resolves actuator roles of a group.
type DeviceSource interface {
	DeviceLookup(ctx context.Context, userID, groupID string) (masterdata.DeviceLookup, error)
}

// CommandIssuer writes actuator commands and stop markers.
type CommandIssuer interface {
	IssueActuatorCommand(ctx context.Context, req commandsapp.StartRequest) (*commands.ActuatorCommand, bool, error)
	IssueStop(ctx context.Context, req commandsapp.StopRequest) (*commands.StopCommand, error)
	ExpireStopMarker(ctx context.Context, stop commands.StopCommand) (bool, error)
	ListActive(ctx context.Context, userID, groupID string) ([]commands.ActuatorCommand, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Dependencies are shared by every session of a manager.
type Dependencies struct {
	Bus       eventing.Bus
	Snapshots SnapshotSource
	Devices   DeviceSource
	Commands  CommandIssuer
	Profile   *alerts.Profile
	Logger    *zap.Logger
	StopTTL   time.Duration
	AfterFunc AfterFunc
	Clock     Clock
}

func (d Dependencies) validate() error {
	if d.Bus == nil {
		return errors.New("alerts: nil bus")
	}
	if d.Snapshots == nil {
		return errors.New("alerts: nil snapshot source")
	}
	if d.Devices == nil {
		return errors.New("alerts: nil device source")
	}
	if d.Commands == nil {
		return errors.New("alerts: nil command issuer")
	}
	return nil
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Profile == nil {
		d.Profile = alerts.DefaultProfile()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.StopTTL <= 0 {
		d.StopTTL = commandsapp.DefaultStopMarkerTTL
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	return d
}

type sessionEvent any

type initEvent struct{}

type readingEvent struct{ reading sensors.Reading }

type targetEvent struct{ target sensors.ControlTarget }

type devicesChangedEvent struct{}

type commandClearedEvent struct {
	role   masterdata.Role
	action string
}

type stopExpiredEvent struct{ stop commands.StopCommand }

type alertsRequest struct{ reply chan []alerts.ActiveAlert }

// Session monitors one group. Bus callbacks only enqueue; a single goroutine owns all state.
type Session struct {
	userID  string
	groupID string
	deps    Dependencies
	logger  *zap.Logger
	rules   []alerts.Rule

	queue  chan sessionEvent
	done   chan struct{}
	exited chan struct{}
	cancel context.CancelFunc
	start  sync.Once
	stop   sync.Once
	unsubs []eventing.Unsubscribe
	timers *scheduler

	// owned by the reducer goroutine
	state     *SessionState
	lifecycle *commands.Lifecycle
	reading   *sensors.Reading
	target    *sensors.ControlTarget
	devices   masterdata.DeviceLookup
}

// NewSession constructs a session for a group. Call Start to begin monitoring.
func NewSession(userID, groupID string, deps Dependencies) (*Session, error) {
	if userID == "" || groupID == "" {
		return nil, alerts.ErrMissingIdentifiers
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Session{
		userID:    userID,
		groupID:   groupID,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("user_id", userID), zap.String("group_id", groupID)),
		rules:     deps.Profile.RulesFor(userID, groupID),
		queue:     make(chan sessionEvent, sessionQueueSize),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		timers:    newScheduler(deps.AfterFunc),
		state:     NewSessionState(),
		lifecycle: commands.NewLifecycle(),
		devices:   masterdata.DeviceLookup{},
	}, nil
}

// UserID returns the owner of the monitored group.
func (s *Session) UserID() string { return s.userID }

// GroupID returns the monitored group.
func (s *Session) GroupID() string { return s.groupID }

// Start subscribes to the bus and launches the reducer. The initial snapshot is loaded by the
// reducer before any bus event is applied.
func (s *Session) Start(ctx context.Context) {
	s.start.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.queue <- initEvent{}
		s.subscribe()
		go s.run(runCtx)
	})
}

// Stop unsubscribes, cancels pending stop-marker tasks and waits for the reducer to exit. No
// store write happens after Stop returns.
func (s *Session) Stop() {
	s.stop.Do(func() {
		close(s.done)
		for _, unsubscribe := range s.unsubs {
			unsubscribe()
		}
		s.timers.Close()
		if s.cancel != nil {
			s.cancel()
			<-s.exited
		}
	})
}

// ActiveAlerts returns the current alerts of the group.
func (s *Session) ActiveAlerts(ctx context.Context) ([]alerts.ActiveAlert, error) {
	reply := make(chan []alerts.ActiveAlert, 1)
	if !s.enqueue(alertsRequest{reply: reply}) {
		return nil, alerts.ErrNotWatched
	}
	select {
	case result := <-reply:
		return result, nil
	case <-s.done:
		return nil, alerts.ErrNotWatched
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingStopMarkers returns the number of scheduled stop-marker deletions.
func (s *Session) PendingStopMarkers() int {
	return s.timers.Pending()
}

func (s *Session) subscribe() {
	bus := s.deps.Bus
	s.unsubs = append(s.unsubs,
		eventing.SubscribeTyped(bus, func(ctx context.Context, e sensorevents.SensorReadingRecorded) error {
			if s.owns(e.UserID, e.GroupID) {
				s.enqueue(readingEvent{reading: e.Reading()})
			}
			return nil
		}),
		eventing.SubscribeTyped(bus, func(ctx context.Context, e sensorevents.ControlTargetChanged) error {
			if s.owns(e.UserID, e.GroupID) {
				s.enqueue(targetEvent{target: e.Target})
			}
			return nil
		}),
		eventing.SubscribeTyped(bus, func(ctx context.Context, e masterdataevents.DeviceRegistered) error {
			if s.owns(e.UserID, e.GroupID) {
				s.enqueue(devicesChangedEvent{})
			}
			return nil
		}),
		eventing.SubscribeTyped(bus, func(ctx context.Context, e masterdataevents.DeviceRemoved) error {
			if s.owns(e.UserID, e.GroupID) {
				s.enqueue(devicesChangedEvent{})
			}
			return nil
		}),
		eventing.SubscribeTyped(bus, func(ctx context.Context, e commandevents.ActuatorCommandCleared) error {
			if s.owns(e.UserID, e.GroupID) {
				s.enqueue(commandClearedEvent{role: masterdata.Role(e.DeviceType), action: e.Action})
			}
			return nil
		}),
	)
}

func (s *Session) owns(userID, groupID string) bool {
	return userID == s.userID && groupID == s.groupID
}

func (s *Session) enqueue(event sessionEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- event:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handle(ctx, event)
		}
	}
}

func (s *Session) handle(ctx context.Context, event sessionEvent) {
	switch e := event.(type) {
	case initEvent:
		s.loadSnapshot(ctx)
		s.evaluate(ctx)
	case readingEvent:
		reading := e.reading
		s.reading = &reading
		s.evaluate(ctx)
	case targetEvent:
		target := e.target
		target.Mode = sensors.NormalizeMode(string(target.Mode))
		s.target = &target
		s.evaluate(ctx)
	case devicesChangedEvent:
		s.loadDevices(ctx)
		for _, decision := range ReleaseUnmapped(s.state, s.devices) {
			s.logger.Info("device of active action gone",
				zap.String("parameter", decision.Parameter), zap.String("device_id", decision.DeviceID))
			s.apply(ctx, decision)
		}
		s.evaluate(ctx)
	case commandClearedEvent:
		if parameter, ok := s.state.ClearCommand(e.role, e.action); ok {
			s.lifecycle.Forget(s.key(e.role, e.action))
			s.logger.Info("active command cleared externally",
				zap.String("parameter", parameter), zap.String("action", e.action))
		}
	case stopExpiredEvent:
		s.expireStop(ctx, e.stop)
	case alertsRequest:
		e.reply <- s.state.ActiveAlerts()
	}
}

func (s *Session) loadSnapshot(ctx context.Context) {
	reading, err := s.deps.Snapshots.LatestReading(ctx, s.userID, s.groupID)
	switch {
	case err == nil:
		s.reading = reading
	case errors.Is(err, sensors.ErrNotFound):
	default:
		s.logger.Warn("load latest reading failed", zap.Error(err))
	}

	target, err := s.deps.Snapshots.GetTargets(ctx, s.userID, s.groupID)
	switch {
	case err == nil:
		s.target = target
	case errors.Is(err, sensors.ErrNotFound):
	default:
		s.logger.Warn("load control targets failed", zap.Error(err))
	}

	s.loadDevices(ctx)

	active, err := s.deps.Commands.ListActive(ctx, s.userID, s.groupID)
	if err != nil {
		s.logger.Warn("load active commands failed", zap.Error(err))
		return
	}
	for _, cmd := range active {
		role, ok := masterdata.ParseRole(cmd.DeviceType)
		if !ok || cmd.Parameter == "" {
			continue
		}
		s.state.Active[cmd.Parameter] = ActiveAction{Action: cmd.Action, Role: role, DeviceID: cmd.DeviceID}
		_, _ = s.lifecycle.Apply(cmd.Key(), commands.TriggerBreach)
	}
}

func (s *Session) loadDevices(ctx context.Context) {
	lookup, err := s.deps.Devices.DeviceLookup(ctx, s.userID, s.groupID)
	if err != nil {
		s.logger.Warn("load devices failed", zap.Error(err))
		return
	}
	if lookup == nil {
		lookup = masterdata.DeviceLookup{}
	}
	s.devices = lookup
}

func (s *Session) evaluate(ctx context.Context) {
	if s.reading == nil {
		return
	}
	started := time.Now()
	decisions := Evaluate(s.state, Input{
		UserID:  s.userID,
		GroupID: s.groupID,
		Reading: *s.reading,
		Target:  s.target,
		Rules:   s.rules,
		Devices: s.devices,
		Now:     s.deps.Clock.Now(),
	})
	// raised alerts go out after the command writes so they can report whether a pump is correcting
	var raised []Decision
	for _, decision := range decisions {
		if decision.Kind == DecisionAlertRaised {
			raised = append(raised, decision)
			continue
		}
		s.apply(ctx, decision)
	}
	for _, decision := range raised {
		s.apply(ctx, decision)
	}
	metrics.ObserveEvaluation(time.Since(started))
}

func (s *Session) apply(ctx context.Context, d Decision) {
	logger := s.logger.With(zap.String("parameter", d.Parameter), zap.String("action", d.Action))
	switch d.Kind {
	case DecisionAlertRaised:
		metrics.IncAlarmEvent("raised")
		event := alertevents.AlertRaised{
			UserID:     s.userID,
			GroupID:    s.groupID,
			Parameter:  d.Parameter,
			Action:     d.Action,
			Message:    d.Alert.Message,
			Current:    d.Alert.Current,
			Target:     d.Alert.Target,
			Magnitude:  d.Alert.Magnitude,
			Severity:   string(d.Alert.Severity),
			OccurredAt: d.Alert.Timestamp,
		}
		if active, ok := s.state.Active[d.Parameter]; ok && active.Action == d.Action {
			event.CommandActive = true
		}
		if err := s.deps.Bus.Publish(ctx, event); err != nil {
			logger.Warn("publish alert raised failed", zap.Error(err))
		}

	case DecisionAlertCleared:
		metrics.IncAlarmEvent("cleared")
		event := alertevents.AlertCleared{
			UserID:     s.userID,
			GroupID:    s.groupID,
			Parameter:  d.Parameter,
			Action:     d.Action,
			OccurredAt: s.deps.Clock.Now(),
		}
		if err := s.deps.Bus.Publish(ctx, event); err != nil {
			logger.Warn("publish alert cleared failed", zap.Error(err))
		}

	case DecisionStart:
		_, written, err := s.deps.Commands.IssueActuatorCommand(ctx, commandsapp.StartRequest{
			UserID:     s.userID,
			GroupID:    s.groupID,
			DeviceID:   d.DeviceID,
			DeviceType: string(d.Role),
			Parameter:  d.Parameter,
			Action:     d.Action,
			Magnitude:  d.Magnitude,
		})
		if err != nil {
			// the next evaluation retries
			s.state.ForgetAction(d.Parameter, d.Action)
			logger.Error("issue actuator command failed", zap.String("device_id", d.DeviceID), zap.Error(err))
			return
		}
		s.transition(s.key(d.Role, d.Action), commands.TriggerBreach)
		logger.Info("actuator command issued",
			zap.String("device_id", d.DeviceID), zap.Float64("magnitude", d.Magnitude), zap.Bool("written", written))

	case DecisionStop:
		stop, err := s.deps.Commands.IssueStop(ctx, commandsapp.StopRequest{
			UserID:     s.userID,
			GroupID:    s.groupID,
			DeviceID:   d.DeviceID,
			DeviceType: string(d.Role),
			Action:     d.Action,
		})
		if err != nil {
			logger.Error("issue stop failed", zap.String("device_id", d.DeviceID), zap.Error(err))
			return
		}
		s.transition(s.key(d.Role, d.Action), commands.TriggerClear)
		marker := *stop
		s.timers.Schedule(marker.ID, s.deps.StopTTL, func() {
			s.enqueue(stopExpiredEvent{stop: marker})
		})
		logger.Info("stop command issued", zap.String("device_id", d.DeviceID))

	case DecisionSkipped:
		logger.Warn("no device registered for actuator role", zap.String("role", string(d.Role)))
	}
}

func (s *Session) expireStop(ctx context.Context, stop commands.StopCommand) {
	deleted, err := s.deps.Commands.ExpireStopMarker(ctx, stop)
	if err != nil {
		s.logger.Warn("expire stop marker failed", zap.String("stop_id", stop.ID), zap.Error(err))
		return
	}
	key := s.key(masterdata.Role(stop.DeviceType), stop.Action)
	if s.lifecycle.State(key) == commands.StateStopping {
		s.transition(key, commands.TriggerExpire)
	}
	if deleted {
		s.logger.Debug("stop marker expired", zap.String("stop_id", stop.ID))
	}
}

func (s *Session) transition(key commands.Key, trigger commands.Trigger) {
	if _, err := s.lifecycle.Apply(key, trigger); err != nil {
		s.logger.Debug("command lifecycle", zap.Error(err))
	}
}

func (s *Session) key(role masterdata.Role, action string) commands.Key {
	return commands.Key{UserID: s.userID, GroupID: s.groupID, DeviceType: string(role), Action: action}
}
