package protocol

import (
	"strings"
)

// DevicePlaceholder is substituted with the device id in topic templates.
const DevicePlaceholder = "{device_id}"

// Default topic layout.
const (
	DefaultRequestTopic  = "iot/+/audio_request"
	DefaultResponseTopic = "iot/" + DevicePlaceholder + "/audio_response"
	DefaultHealthTopic   = "iot/server/health"
	DefaultControlTopic  = "iot/+/session"
)

// Topics holds the MQTT topic layout used between devices and the bridge.
//
// Request and Control are subscription patterns with a single-level "+"
// wildcard in the device position. Response is a template containing
// {device_id}.
//
//	topics := protocol.DefaultTopics()
//	topics.ResponseTopic("kitchen-speaker")
//	// Returns: "iot/kitchen-speaker/audio_response"
type Topics struct {
	Request  string
	Response string
	Health   string
	Control  string
}

// DefaultTopics returns the standard iot/... layout.
func DefaultTopics() Topics {
	return Topics{
		Request:  DefaultRequestTopic,
		Response: DefaultResponseTopic,
		Health:   DefaultHealthTopic,
		Control:  DefaultControlTopic,
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

// RequestSubscription returns the wildcard pattern covering all devices'
// audio requests.
func (t Topics) RequestSubscription() string {
	return t.Request
}

// ControlSubscription returns the wildcard pattern for session control
// messages. Empty disables the control channel.
func (t Topics) ControlSubscription() string {
	return t.Control
}

// =============================================================================
// Publications
// =============================================================================

// ResponseTopic returns the topic a device listens on for responses and errors.
//
// Example: iot/kitchen-speaker/audio_response
func (t Topics) ResponseTopic(deviceID string) string {
	return strings.ReplaceAll(t.Response, DevicePlaceholder, deviceID)
}

// HealthTopic returns the retained server health topic.
//
// Example: iot/server/health
func (t Topics) HealthTopic() string {
	return t.Health
}

// =============================================================================
// Parsing
// =============================================================================

// DeviceFromTopic extracts the device id from a topic that matched pattern.
// It returns false when the topic does not have the pattern's shape.
//
// Example: DeviceFromTopic("iot/+/audio_request", "iot/d1/audio_request") = "d1"
func DeviceFromTopic(pattern, topic string) (string, bool) {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	if len(patternParts) != len(topicParts) {
		return "", false
	}

	device := ""
	for i, p := range patternParts {
		switch p {
		case "+":
			if device == "" {
				device = topicParts[i]
			}
		default:
			if p != topicParts[i] {
				return "", false
			}
		}
	}
	return device, device != ""
}
