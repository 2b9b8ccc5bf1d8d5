package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hydroponics-cloud/internal/eventing"
	mdevents "hydroponics-cloud/internal/masterdata/application/events"
	masterdata "hydroponics-cloud/internal/masterdata/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service manages groups and their actuator devices.
type Service struct {
	groups    masterdata.GroupRepository
	devices   masterdata.DeviceRepository
	publisher eventing.Publisher
	clock     Clock
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

// NewService constructs a masterdata service.
func NewService(groups masterdata.GroupRepository, devices masterdata.DeviceRepository, publisher eventing.Publisher, opts ...ServiceOption) (*Service, error) {
	if groups == nil || devices == nil {
		return nil, errors.New("masterdata: nil repository")
	}
	if publisher == nil {
		return nil, errors.New("masterdata: nil publisher")
	}
	service := &Service{groups: groups, devices: devices, publisher: publisher, clock: systemClock{}}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateGroup saves a group and publishes GroupCreated.
func (s *Service) CreateGroup(ctx context.Context, userID, groupID, name string) (*masterdata.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = groupID
	}
	group := &masterdata.Group{UserID: userID, GroupID: groupID, Name: name}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	if err := s.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("masterdata: save group: %w", err)
	}
	event := mdevents.GroupCreated{UserID: userID, GroupID: groupID, Name: name, OccurredAt: s.clock.Now()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup returns a group or ErrNotFound.
func (s *Service) GetGroup(ctx context.Context, userID, groupID string) (*masterdata.Group, error) {
	if userID == "" || groupID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}
	group, err := s.groups.Get(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, masterdata.ErrNotFound
	}
	return group, nil
}

// ListGroups returns the groups of a user.
func (s *Service) ListGroups(ctx context.Context, userID string) ([]masterdata.Group, error) {
	if userID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}
	return s.groups.ListByUser(ctx, userID)
}

// ListAllGroups returns every known group.
func (s *Service) ListAllGroups(ctx context.Context) ([]masterdata.Group, error) {
	return s.groups.ListAll(ctx)
}

// RegisterDevice adds a device to an existing group. The role is derived from the device id
// unless an explicit role is given.
func (s *Service) RegisterDevice(ctx context.Context, userID, groupID, deviceID, name, role string) (*masterdata.Device, error) {
	if _, err := s.GetGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	device := &masterdata.Device{
		UserID:   userID,
		GroupID:  groupID,
		DeviceID: strings.TrimSpace(deviceID),
		Name:     strings.TrimSpace(name),
		Role:     masterdata.RoleFromDeviceID(strings.TrimSpace(deviceID)),
	}
	if role != "" {
		parsed, ok := masterdata.ParseRole(role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", masterdata.ErrInvalid, role)
		}
		device.Role = parsed
	}
	if err := device.Validate(); err != nil {
		return nil, err
	}
	if err := s.devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("masterdata: save device: %w", err)
	}
	event := mdevents.DeviceRegistered{
		UserID:     userID,
		GroupID:    groupID,
		DeviceID:   device.DeviceID,
		Role:       string(device.Role),
		OccurredAt: s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, err
	}
	return device, nil
}

// RemoveDevice deletes a device and publishes DeviceRemoved.
func (s *Service) RemoveDevice(ctx context.Context, userID, groupID, deviceID string) error {
	if userID == "" || groupID == "" {
		return masterdata.ErrMissingIdentifiers
	}
	removed, err := s.devices.Delete(ctx, userID, groupID, deviceID)
	if err != nil {
		return fmt.Errorf("masterdata: delete device: %w", err)
	}
	if !removed {
		return masterdata.ErrNotFound
	}
	return s.publisher.Publish(ctx, mdevents.DeviceRemoved{
		UserID:     userID,
		GroupID:    groupID,
		DeviceID:   deviceID,
		OccurredAt: s.clock.Now(),
	})
}

// ListDevices returns the devices of a group.
func (s *Service) ListDevices(ctx context.Context, userID, groupID string) ([]masterdata.Device, error) {
	if userID == "" || groupID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}
	return s.devices.ListByGroup(ctx, userID, groupID)
}

// DeviceLookup resolves the role to device id mapping of a group.
func (s *Service) DeviceLookup(ctx context.Context, userID, groupID string) (masterdata.DeviceLookup, error) {
	devices, err := s.ListDevices(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return masterdata.NewDeviceLookup(devices), nil
}
