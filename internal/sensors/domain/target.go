package sensors

import (
	"context"
	"strings"
	"time"
)

// Mode is the control mode of a group.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// NormalizeMode maps unknown or empty modes to auto.
func NormalizeMode(value string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(value))) == ModeManual {
		return ModeManual
	}
	return ModeAuto
}

// ParseMode is the strict variant of NormalizeMode used for user input.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeManual:
		return ModeManual, nil
	default:
		return "", ErrInvalidMode
	}
}

// ControlTarget holds the setpoints of a group.
type ControlTarget struct {
	UserID             string    `json:"userId"`
	GroupID            string    `json:"groupId"`
	PHTarget           float64   `json:"pHTarget"`
	ECTarget           float64   `json:"ecTarget"`
	SoilMoistureTarget float64   `json:"soilMoistureTarget"`
	TempTarget         float64   `json:"tempTarget"`
	HumidityTarget     float64   `json:"humidityTarget"`
	Mode               Mode      `json:"mode"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Value returns the target of a reading field.
func (t ControlTarget) Value(field string) (float64, bool) {
	switch field {
	case FieldPH:
		return t.PHTarget, true
	case FieldEC:
		return t.ECTarget, true
	case FieldSoilMoisture:
		return t.SoilMoistureTarget, true
	case FieldTemperature:
		return t.TempTarget, true
	case FieldHumidity:
		return t.HumidityTarget, true
	default:
		return 0, false
	}
}

// Manual reports whether automatic actuation is disabled.
func (t ControlTarget) Manual() bool {
	return NormalizeMode(string(t.Mode)) == ModeManual
}

// TargetRepository persists control targets.
type TargetRepository interface {
	Get(ctx context.Context, userID, groupID string) (*ControlTarget, error)
	Save(ctx context.Context, target *ControlTarget) error
}
