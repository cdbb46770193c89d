package mqtt

import "fmt"

// DefaultTopicPrefix is the root of every Greenscale topic.
const DefaultTopicPrefix = "greenscale"

// Topics provides builders for Greenscale MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Telemetry("pond-03")
//	// Returns: "greenscale/pond-03/telemetry"
type Topics struct {
	// Prefix overrides DefaultTopicPrefix when non-empty.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Telemetry returns the topic for the per-cycle telemetry message.
//
// Example: greenscale/pond-03/telemetry
func (t Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", t.prefix(), deviceID)
}

// Status returns the retained online/offline status topic, also used as the LWT.
//
// Example: greenscale/pond-03/status
func (t Topics) Status(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", t.prefix(), deviceID)
}
