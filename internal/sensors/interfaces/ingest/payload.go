package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	sensors "hydroponics-cloud/internal/sensors/domain"
)

// Recorder stores an ingested reading.
type Recorder interface {
	RecordReading(ctx context.Context, reading sensors.Reading) (*sensors.Reading, error)
}

var errInvalidTimestamp = errors.New("ingest: invalid timestamp")

var reservedKeys = map[string]struct{}{
	"userId":    {},
	"user_id":   {},
	"groupId":   {},
	"group_id":  {},
	"timestamp": {},
	"ts":        {},
	"values":    {},
}

// ParsePayload decodes a JSON sensor message. Non-empty userID and groupID take precedence over
// identifiers inside the payload. Sensor values are either under "values" or at the top level.
func ParsePayload(data []byte, userID, groupID string) (sensors.Reading, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return sensors.Reading{}, err
	}

	reading := sensors.Reading{
		UserID:  firstNonEmpty(userID, stringValue(raw["userId"]), stringValue(raw["user_id"])),
		GroupID: firstNonEmpty(groupID, stringValue(raw["groupId"]), stringValue(raw["group_id"])),
	}
	if reading.UserID == "" || reading.GroupID == "" {
		return sensors.Reading{}, sensors.ErrMissingIdentifiers
	}

	tsValue, ok := raw["timestamp"]
	if !ok {
		tsValue = raw["ts"]
	}
	ts, err := parseTimestamp(tsValue)
	if err != nil {
		return sensors.Reading{}, err
	}
	reading.Timestamp = ts

	values := make(map[string]any)
	if nested, ok := raw["values"].(map[string]any); ok {
		for key, value := range nested {
			values[key] = value
		}
	} else {
		for key, value := range raw {
			if _, reserved := reservedKeys[key]; reserved {
				continue
			}
			values[key] = value
		}
	}
	if len(values) == 0 {
		return sensors.Reading{}, errors.New("ingest: no sensor values")
	}
	reading.Values = values
	return reading, nil
}

func parseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, errInvalidTimestamp
			}
			n = int64(f)
		}
		return fromEpoch(n)
	case float64:
		return fromEpoch(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errInvalidTimestamp
		}
		return t.UTC(), nil
	default:
		return time.Time{}, errInvalidTimestamp
	}
}

func fromEpoch(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errInvalidTimestamp
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}

func stringValue(value any) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
