// Package mqtt provides the resilient telemetry publish pipeline for the
// Greenscale edge agent.
//
// This package manages:
//   - The broker session, owned by a single Manager (Connection Manager)
//   - Bounded connect retries with a fixed delay and optional jitter
//   - TLS material validation before any network attempt
//   - Credential binding
//   - Publishing with one forced reconnect-and-retry (Gateway)
//   - Last Will and Testament plus retained online/offline status
//
// # Architecture
//
//	Runner Loop → Gateway → Manager → Transport (paho) → broker
//
// The Manager is the only component that opens the session or changes the
// Connection State. The paho client runs its own goroutines for keepalive
// and acknowledgements; paho's auto-reconnect is disabled so reconnection
// happens only when the Gateway asks for it.
//
// # Failure Semantics
//
//   - TLS file errors and credential errors are configuration errors: they
//     fail immediately and are never retried (ErrTLSConfiguration,
//     ErrInvalidCredentials)
//   - Transient connect errors are retried up to Target.Retries times
//     (ErrConnectionFailed when exhausted)
//   - A transport error during publish triggers exactly one reconnect and
//     one more publish (ErrPublishFailed when that fails too)
//
// # Usage
//
//	manager := mqtt.NewManager(mqtt.NewPahoTransport(), mqtt.NewTarget(cfg, deviceID),
//	    mqtt.WithLogger(log))
//	defer manager.Close()
//
//	gateway := mqtt.NewGateway(manager, mqtt.Topics{}.Telemetry(deviceID), log)
//	if err := gateway.Publish(ctx, payload, 1); err != nil {
//	    log.Error("publish failed", "error", err)
//	}
package mqtt
