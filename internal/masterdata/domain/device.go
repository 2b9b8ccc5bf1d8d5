package masterdata

import (
	"context"
	"fmt"
	"time"
)

// Role is the logical actuator role of a device.
type Role string

const (
	RoleNutrientPump    Role = "nutrient_pump"
	RoleWaterPump       Role = "water_pump"
	RoleDisposalPump    Role = "disposal_pump"
	RoleCirculationPump Role = "circulation_pump"
	RoleUnknown         Role = "unknown"
)

// RoleFromDeviceID decodes the role from the first character of a device id.
func RoleFromDeviceID(deviceID string) Role {
	if deviceID == "" {
		return RoleUnknown
	}
	switch deviceID[0] {
	case '1':
		return RoleNutrientPump
	case '2':
		return RoleWaterPump
	case '3':
		return RoleDisposalPump
	case '4':
		return RoleCirculationPump
	default:
		return RoleUnknown
	}
}

// ParseRole validates a role name.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleNutrientPump, RoleWaterPump, RoleDisposalPump, RoleCirculationPump:
		return Role(value), true
	default:
		return RoleUnknown, false
	}
}

// Device is an actuator registered in a group.
type Device struct {
	UserID    string
	GroupID   string
	DeviceID  string
	Name      string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.UserID == "" || d.GroupID == "" {
		return ErrMissingIdentifiers
	}
	if d.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalid)
	}
	return nil
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Save(ctx context.Context, device *Device) error
	Delete(ctx context.Context, userID, groupID, deviceID string) (bool, error)
	ListByGroup(ctx context.Context, userID, groupID string) ([]Device, error)
}

// DeviceLookup maps an actuator role to a concrete device id.
type DeviceLookup map[Role]string

// NewDeviceLookup builds a lookup; the first device listed for a role wins.
func NewDeviceLookup(devices []Device) DeviceLookup {
	lookup := make(DeviceLookup)
	for _, device := range devices {
		role := device.Role
		if role == "" {
			role = RoleFromDeviceID(device.DeviceID)
		}
		if role == RoleUnknown {
			continue
		}
		if _, exists := lookup[role]; exists {
			continue
		}
		lookup[role] = device.DeviceID
	}
	return lookup
}

// Resolve returns the device id for a role.
func (l DeviceLookup) Resolve(role Role) (string, bool) {
	id, ok := l[role]
	return id, ok && id != ""
}
