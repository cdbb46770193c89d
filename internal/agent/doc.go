// Package agent drives the telemetry cycle.
//
// One Runner per process loops through:
//
//	idle -> sampling -> publishing -> sleeping -> sampling -> ...
//	                                     |
//	                        ctx cancelled -> stopped
//
// Before each cycle the Runner polls for a new configuration and, if one
// was loaded, updates the broker target (used at the next connect), the
// topic, the interval and backoff, and rebuilds producers with the new
// calibration. Publish failures are logged and the loop carries on; a
// panicking cycle is recovered and followed by the error backoff.
package agent
