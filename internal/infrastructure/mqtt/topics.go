package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "graylogic/arbiter"

// Topics builds the arbiter's MQTT topics under one prefix.
//
//	topics := mqtt.NewTopics("graylogic/arbiter")
//	topics.Command("lamp-kitchen")
//	// Returns: "graylogic/arbiter/command/lamp-kitchen"
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder, trimming any trailing slash from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: graylogic/arbiter/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Notification carries user-facing notifications (mismatches, overrides,
// quarantine reminders).
//
// Example: graylogic/arbiter/notification
func (t Topics) Notification() string {
	return t.Prefix + "/notification"
}

// Event carries engine events of one kind.
//
// Example: graylogic/arbiter/event/quarantined
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.Prefix, kind)
}

// Command is where other services ask the arbiter to act on a device.
//
// Example: graylogic/arbiter/command/lamp-kitchen
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, deviceID)
}

// AllCommands matches every device command topic.
func (t Topics) AllCommands() string {
	return t.Prefix + "/command/+"
}

// AllEvents matches every engine event topic.
func (t Topics) AllEvents() string {
	return t.Prefix + "/event/+"
}

// DeviceFromCommand extracts the device ID from a command topic.
// It returns false for topics outside the command subtree.
func (t Topics) DeviceFromCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
