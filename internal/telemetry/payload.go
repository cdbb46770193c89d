package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// SchemaVersion is the payload "version" field.
const SchemaVersion = 1

// TimestampFormat is ISO-8601 UTC with a literal Z.
const TimestampFormat = "2006-01-02T15:04:05Z"

// Payload is the Telemetry Payload for one cycle.
//
// The JSON encoding is the wire contract; see the package documentation.
// Readings are keyed by sensor identity. A nil Camera encodes as null.
type Payload struct {
	Version   int
	DeviceID  string
	Timestamp time.Time
	Online    bool
	Uptime    time.Duration
	Readings  map[string]Reading
	Camera    *CameraMetric
}

// Sensors returns the sensor identities in the payload, sorted.
func (p *Payload) Sensors() []string {
	names := make([]string, 0, len(p.Readings))
	for name := range p.Readings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the value for sensor and whether it is usable.
func (p *Payload) Value(sensor string) (float64, bool) {
	r, ok := p.Readings[sensor]
	if !ok || !r.OK() {
		return 0, false
	}
	return r.Value, true
}

type wireStatus struct {
	Online    bool  `json:"online"`
	UptimeSec int64 `json:"uptime_sec"`
}

type wireCamera struct {
	TurbidityIndex float64 `json:"turbidity_index"`
	AvgColorHex    string  `json:"avg_color_hex"`
}

type wirePayload struct {
	Version   int                 `json:"version"`
	DeviceID  string              `json:"device_id"`
	Timestamp string              `json:"timestamp"`
	Status    wireStatus          `json:"status"`
	Sensors   map[string]*float64 `json:"sensors"`
	Camera    *wireCamera         `json:"camera"`
}

// MarshalJSON encodes the wire contract. Readings that are not OK encode
// as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	w := wirePayload{
		Version:   p.Version,
		DeviceID:  p.DeviceID,
		Timestamp: p.Timestamp.UTC().Format(TimestampFormat),
		Status: wireStatus{
			Online:    p.Online,
			UptimeSec: int64(p.Uptime / time.Second),
		},
		Sensors: make(map[string]*float64, len(p.Readings)),
	}
	if w.Version == 0 {
		w.Version = SchemaVersion
	}

	for name, r := range p.Readings {
		if !r.OK() {
			w.Sensors[name] = nil
			continue
		}
		v := r.Value
		w.Sensors[name] = &v
	}

	if p.Camera != nil {
		w.Camera = &wireCamera{
			TurbidityIndex: clampUnit(p.Camera.TurbidityIndex),
			AvgColorHex:    p.Camera.AvgColor.Hex(),
		}
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire contract. Units are not carried on the
// wire, so decoded readings have an empty Unit; each takes the payload
// timestamp.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(TimestampFormat, w.Timestamp)
	if err != nil {
		return fmt.Errorf("telemetry: parsing timestamp: %w", err)
	}

	decoded := Payload{
		Version:   w.Version,
		DeviceID:  w.DeviceID,
		Timestamp: ts,
		Online:    w.Status.Online,
		Uptime:    time.Duration(w.Status.UptimeSec) * time.Second,
		Readings:  make(map[string]Reading, len(w.Sensors)),
	}

	for name, v := range w.Sensors {
		if v == nil || math.IsNaN(*v) {
			decoded.Readings[name] = ErrorReading(name, "", ts)
			continue
		}
		decoded.Readings[name] = NewReading(name, *v, "", ts)
	}

	if w.Camera != nil {
		rgb, err := ParseHex(w.Camera.AvgColorHex)
		if err != nil {
			return err
		}
		m := NewCameraMetric(rgb, w.Camera.TurbidityIndex)
		decoded.Camera = &m
	}

	*p = decoded
	return nil
}
