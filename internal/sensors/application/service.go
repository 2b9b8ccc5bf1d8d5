package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hydroponics-cloud/internal/eventing"
	sensorevents "hydroponics-cloud/internal/sensors/application/events"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service stores readings and control targets and publishes their changes.
type Service struct {
	readings  sensors.ReadingRepository
	targets   sensors.TargetRepository
	publisher eventing.Publisher
	clock     Clock
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

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a sensors service.
func NewService(readings sensors.ReadingRepository, targets sensors.TargetRepository, publisher eventing.Publisher, opts ...ServiceOption) (*Service, error) {
	if readings == nil {
		return nil, errors.New("sensors: nil reading repository")
	}
	if targets == nil {
		return nil, errors.New("sensors: nil target repository")
	}
	if publisher == nil {
		return nil, errors.New("sensors: nil publisher")
	}
	service := &Service{
		readings:  readings,
		targets:   targets,
		publisher: publisher,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RecordReading stores a reading and publishes SensorReadingRecorded.
func (s *Service) RecordReading(ctx context.Context, reading sensors.Reading) (*sensors.Reading, error) {
	if err := reading.Validate(); err != nil {
		s.logger.Warn("reading rejected",
			zap.String("user_id", reading.UserID),
			zap.String("group_id", reading.GroupID),
			zap.Error(err))
		return nil, err
	}
	if reading.ID == "" {
		reading.ID = eventing.NewEventID()
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.clock.Now()
	}
	reading.Timestamp = reading.Timestamp.UTC()

	if err := s.readings.Save(ctx, &reading); err != nil {
		return nil, fmt.Errorf("sensors: save reading: %w", err)
	}

	event := sensorevents.SensorReadingRecorded{
		UserID:     reading.UserID,
		GroupID:    reading.GroupID,
		ReadingID:  reading.ID,
		Timestamp:  reading.Timestamp,
		Values:     reading.Values,
		OccurredAt: s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, err
	}
	return &reading, nil
}

// LatestReading returns the newest reading of a group.
func (s *Service) LatestReading(ctx context.Context, userID, groupID string) (*sensors.Reading, error) {
	if userID == "" || groupID == "" {
		return nil, sensors.ErrMissingIdentifiers
	}
	reading, err := s.readings.Latest(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, sensors.ErrNotFound
	}
	return reading, nil
}

// ListReadings returns readings in [from, to).
func (s *Service) ListReadings(ctx context.Context, userID, groupID string, from, to time.Time) ([]sensors.Reading, error) {
	if userID == "" || groupID == "" {
		return nil, sensors.ErrMissingIdentifiers
	}
	if !to.After(from) {
		return nil, errors.New("sensors: to must be after from")
	}
	return s.readings.ListRange(ctx, userID, groupID, from.UTC(), to.UTC())
}

// GetTargets returns the control targets of a group.
func (s *Service) GetTargets(ctx context.Context, userID, groupID string) (*sensors.ControlTarget, error) {
	if userID == "" || groupID == "" {
		return nil, sensors.ErrMissingIdentifiers
	}
	target, err := s.targets.Get(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, sensors.ErrNotFound
	}
	target.Mode = sensors.NormalizeMode(string(target.Mode))
	return target, nil
}

// UpdateTargets validates and stores control targets, then publishes the new snapshot.
func (s *Service) UpdateTargets(ctx context.Context, target sensors.ControlTarget) (*sensors.ControlTarget, error) {
	if target.UserID == "" || target.GroupID == "" {
		return nil, sensors.ErrMissingIdentifiers
	}
	mode, err := sensors.ParseMode(string(target.Mode))
	if err != nil {
		return nil, err
	}
	target.Mode = mode
	target.UpdatedAt = s.clock.Now()

	if err := s.targets.Save(ctx, &target); err != nil {
		return nil, fmt.Errorf("sensors: save targets: %w", err)
	}
	event := sensorevents.ControlTargetChanged{
		UserID:     target.UserID,
		GroupID:    target.GroupID,
		Target:     target,
		OccurredAt: target.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, err
	}
	return &target, nil
}
