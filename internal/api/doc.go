// Package api serves the local diagnostics API of the edge agent.
//
// Endpoints (all under /api/v1):
//   - GET  /health            runner state, MQTT session and publish counters, host stats
//   - GET  /telemetry/latest  the last assembled payload in wire format
//   - GET  /journal           publish journal, most recent first
//   - POST /camera/snapshot   capture a full-resolution still (rate limited)
//
// The API binds to localhost by default and has no authentication; it is a
// maintenance aid for whoever is on the device, not a remote control plane.
// Telemetry leaves the device over MQTT only.
package api
