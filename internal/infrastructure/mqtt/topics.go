package mqtt

import "fmt"

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "devio"

// Topics builds devio MQTT topics under a configurable prefix.
// Using these helpers keeps topic naming consistent between the publisher
// and anything that subscribes.
//
//	{prefix}/system/status                        retained online/offline
//	{prefix}/inventory                            retained device list
//	{prefix}/device/{major}/{minor}/stats         retained counters
//	{prefix}/device/{major}/{minor}/event         registered / unregistered
//	{prefix}/device/{major}/{minor}/request       finished request
//	{prefix}/command/{name}                       inbound commands
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// SystemStatus returns the topic for the service's online/offline status.
// It carries the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// Inventory returns the retained topic holding the current device list.
func (t Topics) Inventory() string {
	return t.prefix() + "/inventory"
}

// DeviceStats returns the retained topic for a device's counters.
//
// Example: devio/device/4/0/stats
func (t Topics) DeviceStats(major, minor uint32) string {
	return fmt.Sprintf("%s/device/%d/%d/stats", t.prefix(), major, minor)
}

// DeviceEvent returns the topic for registration changes of one device.
func (t Topics) DeviceEvent(major, minor uint32) string {
	return fmt.Sprintf("%s/device/%d/%d/event", t.prefix(), major, minor)
}

// RequestFinished returns the topic for finished requests on a device.
func (t Topics) RequestFinished(major, minor uint32) string {
	return fmt.Sprintf("%s/device/%d/%d/request", t.prefix(), major, minor)
}

// Command returns the topic for an inbound command, e.g. devio/command/inventory.
func (t Topics) Command(name string) string {
	return t.prefix() + "/command/" + name
}

// AllDeviceEvents matches registration changes of every device.
func (t Topics) AllDeviceEvents() string {
	return t.prefix() + "/device/+/+/event"
}

// AllRequests matches finished requests of every device.
func (t Topics) AllRequests() string {
	return t.prefix() + "/device/+/+/request"
}

// AllCommands matches every inbound command.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllTopics matches everything under the prefix. Useful for debugging.
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}
