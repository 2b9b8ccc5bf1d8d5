package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Well-known reading fields.
const (
	FieldPH             = "ph"
	FieldEC             = "ec"
	FieldSoilMoisture   = "soil_moisture"
	FieldTemperature    = "temperature"
	FieldHumidity       = "humidity"
	FieldLightIntensity = "light_intensity"
	FieldWaterLevel     = "water_level"
)

var (
	// ErrMissingIdentifiers indicates an empty user or group id.
	ErrMissingIdentifiers = errors.New("sensors: missing user or group id")
	// ErrNotFound indicates no reading or target exists for the group.
	ErrNotFound = errors.New("sensors: not found")
	// ErrInvalidMode indicates an unsupported control mode.
	ErrInvalidMode = errors.New("sensors: invalid mode")
)

// Reading is one sensor snapshot for a group.
type Reading struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	GroupID   string         `json:"groupId"`
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.UserID == "" || r.GroupID == "" {
		return ErrMissingIdentifiers
	}
	if len(r.Values) == 0 {
		return errors.New("reading: empty values")
	}
	return nil
}

// Number returns the numeric value of a field. Missing, malformed or non-finite values are 0.
func (r Reading) Number(field string) float64 {
	return CoerceNumber(r.Values[field])
}

// Has reports whether the field is present.
func (r Reading) Has(field string) bool {
	_, ok := r.Values[field]
	return ok
}

// Text returns a categorical field lower-cased and trimmed.
func (r Reading) Text(field string) string {
	switch v := r.Values[field].(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case nil:
		return ""
	default:
		return ""
	}
}

// CoerceNumber converts a loosely typed value to a finite float64, defaulting to 0.
func CoerceNumber(value any) float64 {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ReadingRepository persists sensor readings.
type ReadingRepository interface {
	Save(ctx context.Context, reading *Reading) error
	Latest(ctx context.Context, userID, groupID string) (*Reading, error)
	ListRange(ctx context.Context, userID, groupID string, from, to time.Time) ([]Reading, error)
}
