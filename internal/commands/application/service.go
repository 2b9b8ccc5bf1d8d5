package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	commandsevents "hydroponics-cloud/internal/commands/application/events"
	commands "hydroponics-cloud/internal/commands/domain"
	"hydroponics-cloud/internal/eventing"
	"hydroponics-cloud/internal/observability/metrics"
)

// DefaultStopMarkerTTL is how long a stop marker lives before it is deleted.
const DefaultStopMarkerTTL = 10 * time.Second

// StartRequest asks for a corrective action on a device.
type StartRequest struct {
	UserID     string
	GroupID    string
	DeviceID   string
	DeviceType string
	Parameter  string
	Action     string
	Magnitude  float64
}

// StopRequest asks a device to cease an action.
type StopRequest struct {
	UserID     string
	GroupID    string
	DeviceID   string
	DeviceType string
	Action     string
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service writes actuator commands and stop markers.
type Service struct {
	repo      commands.Repository
	publisher eventing.Publisher
	clock     Clock
	stopTTL   time.Duration
	logger    *zap.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStopMarkerTTL overrides the stop marker lifetime.
func WithStopMarkerTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.stopTTL = ttl
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a command service.
func NewService(repo commands.Repository, publisher eventing.Publisher, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("commands: nil repo")
	}
	if publisher == nil {
		return nil, errors.New("commands: nil publisher")
	}
	service := &Service{
		repo:      repo,
		publisher: publisher,
		clock:     systemClock{},
		stopTTL:   DefaultStopMarkerTTL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// StopMarkerTTL returns the configured stop marker lifetime.
func (s *Service) StopMarkerTTL() time.Duration {
	return s.stopTTL
}

// IssueActuatorCommand writes a start command. It returns written=false when a command with the
// same (group, deviceType, action) is already outstanding.
func (s *Service) IssueActuatorCommand(ctx context.Context, req StartRequest) (*commands.ActuatorCommand, bool, error) {
	metrics.IncCommandRequested(metrics.CommandKindStart)
	now := s.clock.Now()
	cmd := &commands.ActuatorCommand{
		ID:         eventing.NewEventID(),
		UserID:     req.UserID,
		GroupID:    req.GroupID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Parameter:  req.Parameter,
		Action:     req.Action,
		Magnitude:  req.Magnitude,
		IssuedAt:   now,
	}
	if err := cmd.Validate(); err != nil {
		metrics.IncCommandResult(metrics.CommandKindStart, metrics.CommandResultFailed)
		return nil, false, err
	}

	written, err := s.repo.InsertActive(ctx, cmd)
	if err != nil {
		metrics.IncCommandResult(metrics.CommandKindStart, metrics.CommandResultFailed)
		return nil, false, fmt.Errorf("commands: insert active: %w", err)
	}
	if !written {
		metrics.IncCommandResult(metrics.CommandKindStart, metrics.CommandResultSkipped)
		return cmd, false, nil
	}
	metrics.IncCommandResult(metrics.CommandKindStart, metrics.CommandResultWritten)

	event := commandsevents.ActuatorCommandIssued{
		UserID:     cmd.UserID,
		GroupID:    cmd.GroupID,
		CommandID:  cmd.ID,
		DeviceID:   cmd.DeviceID,
		DeviceType: cmd.DeviceType,
		Parameter:  cmd.Parameter,
		Action:     cmd.Action,
		Magnitude:  cmd.Magnitude,
		OccurredAt: now,
	}
	s.notify(ctx, event)
	return cmd, true, nil
}

// IssueStop removes the active command of the slot and writes a stop marker.
func (s *Service) IssueStop(ctx context.Context, req StopRequest) (*commands.StopCommand, error) {
	metrics.IncCommandRequested(metrics.CommandKindStop)
	if req.UserID == "" || req.GroupID == "" {
		metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultFailed)
		return nil, commands.ErrMissingIdentifiers
	}
	if req.DeviceType == "" || req.Action == "" {
		metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultFailed)
		return nil, commands.ErrInvalidCommand
	}

	key := commands.Key{UserID: req.UserID, GroupID: req.GroupID, DeviceType: req.DeviceType, Action: req.Action}
	if _, err := s.repo.DeleteActive(ctx, key); err != nil {
		metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultFailed)
		return nil, fmt.Errorf("commands: delete active: %w", err)
	}

	now := s.clock.Now()
	stop := &commands.StopCommand{
		ID:         eventing.NewEventID(),
		UserID:     req.UserID,
		GroupID:    req.GroupID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Action:     req.Action,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.stopTTL),
	}
	if err := s.repo.InsertStop(ctx, stop); err != nil {
		metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultFailed)
		return nil, fmt.Errorf("commands: insert stop: %w", err)
	}
	metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultWritten)

	event := commandsevents.StopCommandIssued{
		UserID:     stop.UserID,
		GroupID:    stop.GroupID,
		StopID:     stop.ID,
		DeviceID:   stop.DeviceID,
		DeviceType: stop.DeviceType,
		Action:     stop.Action,
		ExpiresAt:  stop.ExpiresAt,
		OccurredAt: now,
	}
	s.notify(ctx, event)
	return stop, nil
}

// ExpireStopMarker deletes a stop marker. It reports false when the marker was already gone.
func (s *Service) ExpireStopMarker(ctx context.Context, stop commands.StopCommand) (bool, error) {
	deleted, err := s.repo.DeleteStop(ctx, stop.ID)
	if err != nil {
		return false, fmt.Errorf("commands: delete stop: %w", err)
	}
	if !deleted {
		return false, nil
	}
	metrics.IncCommandResult(metrics.CommandKindStop, metrics.CommandResultExpired)
	event := commandsevents.StopMarkerExpired{
		UserID:     stop.UserID,
		GroupID:    stop.GroupID,
		StopID:     stop.ID,
		OccurredAt: s.clock.Now(),
	}
	s.notify(ctx, event)
	return true, nil
}

// SweepExpired deletes stop markers whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.repo.DeleteExpiredStops(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("commands: sweep stops: %w", err)
	}
	return count, nil
}

// ClearActive removes an active command outside the alert engine, e.g. an operator override.
func (s *Service) ClearActive(ctx context.Context, key commands.Key) (bool, error) {
	if key.UserID == "" || key.GroupID == "" {
		return false, commands.ErrMissingIdentifiers
	}
	deleted, err := s.repo.DeleteActive(ctx, key)
	if err != nil {
		return false, fmt.Errorf("commands: delete active: %w", err)
	}
	if !deleted {
		return false, nil
	}
	event := commandsevents.ActuatorCommandCleared{
		UserID:     key.UserID,
		GroupID:    key.GroupID,
		DeviceType: key.DeviceType,
		Action:     key.Action,
		OccurredAt: s.clock.Now(),
	}
	s.notify(ctx, event)
	return true, nil
}

// ListActive returns the outstanding commands of a group.
func (s *Service) ListActive(ctx context.Context, userID, groupID string) ([]commands.ActuatorCommand, error) {
	if userID == "" || groupID == "" {
		return nil, commands.ErrMissingIdentifiers
	}
	return s.repo.ListActive(ctx, userID, groupID)
}

// ListStops returns the unexpired stop markers of a group.
func (s *Service) ListStops(ctx context.Context, userID, groupID string) ([]commands.StopCommand, error) {
	if userID == "" || groupID == "" {
		return nil, commands.ErrMissingIdentifiers
	}
	return s.repo.ListStops(ctx, userID, groupID)
}

// notify publishes an event for a write that already succeeded. Subscriber failures are logged
// and never reported as a failed write.
func (s *Service) notify(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("command event delivery failed",
			zap.String("event_type", eventing.EventType(event)), zap.Error(err))
	}
}
