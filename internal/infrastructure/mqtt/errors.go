package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting to publish on a disconnected transport.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when every connect attempt in the retry budget failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a payload could not be delivered,
	// including after the single reconnect-and-retry.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrTLSConfiguration is returned when a configured CA, certificate or key
	// file is missing, unreadable or invalid. It is never retried.
	ErrTLSConfiguration = errors.New("mqtt: invalid TLS configuration")

	// ErrInvalidCredentials is returned when credentials are incomplete or the
	// broker refuses them. It is never retried.
	ErrInvalidCredentials = errors.New("mqtt: invalid credentials")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrPayloadTooLarge is returned when a serialised payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout is returned when a connect or publish does not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
