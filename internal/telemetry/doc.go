// Package telemetry provides the data model and assembly of the per-cycle
// Telemetry Payload published by the Greenscale edge agent.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                          Assembler                            │
//	│                                                               │
//	│  Producer (temperature) ─┐                                    │
//	│  Producer (ph)          ─┼──▶ Readings ─┐                     │
//	│  Producer (do)          ─┤              ├──▶ Payload ──▶ JSON │
//	│  Producer (turbidity)   ─┘              │                     │
//	│  CameraSource           ───▶ CameraMetric                     │
//	└───────────────────────────────────────────────────────────────┘
//
// A producer that returns an error or panics never aborts the cycle: its
// field is reported with status "error" and a null value on the wire. A
// camera failure makes the camera object null.
//
// # Wire Format
//
//	{
//	  "version": 1,
//	  "device_id": "pond-03",
//	  "timestamp": "2026-03-01T12:00:00Z",
//	  "status": {"online": true, "uptime_sec": 3600},
//	  "sensors": {"temperature": 19.8, "ph": 6.9, "do": 7.7, "turbidity": 2.5},
//	  "camera": {"turbidity_index": 0.42, "avg_color_hex": "#123456"}
//	}
//
// # Key Types
//
//   - Reading: one labelled sensor measurement with unit, status and timestamp
//   - CameraMetric: average colour and contrast-derived turbidity index
//   - Payload: the aggregated message for one cycle
//   - Producer: the single capability "produces one Reading"
package telemetry
