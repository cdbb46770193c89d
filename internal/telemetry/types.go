package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Sensor identity strings used as keys in the payload's sensors object.
const (
	SensorTemperature     = "temperature"
	SensorPH              = "ph"
	SensorDissolvedOxygen = "do"
	SensorTurbidity       = "turbidity"
	SensorAmmonia         = "ammonia"
	SensorCO2             = "co2"
)

// Status reports whether a Reading holds a usable value.
type Status string

// Reading statuses.
const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var (
	// ErrInvalidColor is returned when a hex colour string cannot be parsed.
	ErrInvalidColor = errors.New("telemetry: invalid color")

	// ErrProducer wraps a failed or panicking producer. It is logged by the
	// Assembler and never escapes a cycle.
	ErrProducer = errors.New("telemetry: producer failed")
)

// Reading is a single labelled sensor measurement.
type Reading struct {
	Sensor    string    `json:"sensor"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReading returns an ok reading stamped with now (UTC, whole seconds).
func NewReading(sensor string, value float64, unit string, now time.Time) Reading {
	return Reading{
		Sensor:    sensor,
		Value:     value,
		Unit:      unit,
		Status:    StatusOK,
		Timestamp: stamp(now),
	}
}

// ErrorReading returns a reading with StatusError. Its value is NaN and is
// encoded as null.
func ErrorReading(sensor, unit string, now time.Time) Reading {
	return Reading{
		Sensor:    sensor,
		Value:     math.NaN(),
		Unit:      unit,
		Status:    StatusError,
		Timestamp: stamp(now),
	}
}

// OK reports whether the reading carries a finite value.
func (r Reading) OK() bool {
	return r.Status == StatusOK && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// RGB is an 8-bit colour.
type RGB struct {
	R, G, B uint8
}

// Hex returns the colour as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHex parses "#rrggbb" (case-insensitive).
func ParseHex(s string) (RGB, error) {
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// CameraMetric is the camera-derived portion of the payload.
type CameraMetric struct {
	AvgColor       RGB
	TurbidityIndex float64
}

// NewCameraMetric clamps turbidity into [0, 1]. NaN becomes 0.
func NewCameraMetric(avg RGB, turbidity float64) CameraMetric {
	return CameraMetric{AvgColor: avg, TurbidityIndex: clampUnit(turbidity)}
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// stamp normalises a timestamp to UTC whole seconds, matching the wire format.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
