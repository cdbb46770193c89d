package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// Measurement names written by the mirror.
const (
	measurementTelemetry = "telemetry"
	measurementPublish   = "publish"
)

// WriteTelemetry mirrors one payload as a single point tagged with the
// device id. Failed readings are left out; a payload with nothing to
// record is skipped.
//
// Example line:
//
//	telemetry,device_id=pond-03 ph=6.9,temperature=19.8,camera_turbidity_index=0.42,uptime_sec=3600i 1772366400000000000
func (c *Client) WriteTelemetry(p *telemetry.Payload) {
	if !c.IsConnected() {
		return
	}
	if point := telemetryPoint(p); point != nil {
		c.writeAPI.WritePoint(point)
	}
}

// WritePublishOutcome records whether a cycle's publish reached the broker.
func (c *Client) WritePublishOutcome(deviceID string, published bool, bytes int, duration time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(publishPoint(deviceID, published, bytes, duration, at))
}

func telemetryPoint(p *telemetry.Payload) *write.Point {
	if p == nil {
		return nil
	}

	fields := make(map[string]interface{}, len(p.Readings)+2)
	for _, name := range p.Sensors() {
		if v, ok := p.Value(name); ok {
			fields[name] = v
		}
	}
	if p.Camera != nil {
		fields["camera_turbidity_index"] = p.Camera.TurbidityIndex
	}
	if len(fields) == 0 {
		return nil
	}
	fields["uptime_sec"] = int64(p.Uptime / time.Second)

	return write.NewPoint(
		measurementTelemetry,
		map[string]string{"device_id": p.DeviceID},
		fields,
		p.Timestamp,
	)
}

func publishPoint(deviceID string, published bool, bytes int, duration time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementPublish,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"published":   published,
			"bytes":       int64(bytes),
			"duration_ms": duration.Milliseconds(),
		},
		at,
	)
}
