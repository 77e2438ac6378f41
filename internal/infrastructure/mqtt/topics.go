package mqtt

import "fmt"

// Topic prefixes for the skinnyd MQTT surface.
//
// Device state uses the flat scheme: skinny/devstate/{line}@{device}
// so a hint subscriber can watch a single line key or wildcard the lot.
const (
	// TopicPrefix is the base for all skinnyd topics.
	TopicPrefix = "skinny"

	// TopicPrefixDevState is the base for per-line device state topics.
	TopicPrefixDevState = "skinny/devstate"

	// TopicPrefixManager is the base for manager event and request topics.
	TopicPrefixManager = "skinny/manager"

	// TopicPrefixMWI is the base for message waiting indication topics.
	TopicPrefixMWI = "skinny/mwi"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "skinny/system"
)

// Topics provides builders for skinnyd MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("reception", "SEP001122334455")
//	// Returns: "skinny/devstate/reception@SEP001122334455"
type Topics struct{}

// DeviceState returns the retained state topic for one line on one device.
//
// Example: skinny/devstate/reception@SEP001122334455
func (Topics) DeviceState(line, deviceID string) string {
	return fmt.Sprintf("%s/%s@%s", TopicPrefixDevState, line, deviceID)
}

// ManagerEvent returns the topic for a manager event stream.
//
// Example: skinny/manager/SKINNYdevices
func (Topics) ManagerEvent(event string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixManager, event)
}

// ManagerRequest returns the topic manager commands are received on.
//
// Example: skinny/manager/request
func (Topics) ManagerRequest() string {
	return fmt.Sprintf("%s/request", TopicPrefixManager)
}

// MWI returns the topic carrying voicemail counts for one mailbox.
//
// Example: skinny/mwi/501@voicemail
func (Topics) MWI(mailbox, context string) string {
	return fmt.Sprintf("%s/%s@%s", TopicPrefixMWI, mailbox, context)
}

// SystemStatus returns the system status topic used for the LWT and
// online/offline announcements.
//
// Example: skinny/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching every line state topic.
//
// Pattern: skinny/devstate/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+", TopicPrefixDevState)
}

// AllMWI returns a pattern matching every mailbox topic.
//
// Pattern: skinny/mwi/+
func (Topics) AllMWI() string {
	return fmt.Sprintf("%s/+", TopicPrefixMWI)
}

// AllTopics returns a pattern matching all skinnyd topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: skinny/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
