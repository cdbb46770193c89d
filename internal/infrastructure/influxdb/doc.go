// Package influxdb mirrors telemetry into InfluxDB v2 for local trend
// dashboards.
//
// The mirror is optional and best-effort. MQTT stays the delivery path;
// write failures here are reported through SetOnError and never affect a
// publish cycle.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror turned off
//	}
//	defer client.Close()
//
//	client.WriteTelemetry(payload)
//
// # Points
//
//	telemetry,device_id=<id> <sensor>=<value>...,camera_turbidity_index=<f>,uptime_sec=<i>
//	publish,device_id=<id> published=<bool>,bytes=<i>,duration_ms=<i>
//
// Writes are batched according to batch_size and flush_interval.
package influxdb
