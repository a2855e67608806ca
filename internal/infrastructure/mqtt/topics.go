package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixBeacon is the base for all beacon topics:
// graylogic/beacon/{beacon_id}/{category}.
const TopicPrefixBeacon = "graylogic/beacon"

// Topics provides builders for beacon MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	frameTopic := topics.BeaconFrame("hall-01")
//	// Returns: "graylogic/beacon/hall-01/frame"
type Topics struct{}

// =============================================================================
// Beacon Topics
// =============================================================================

// BeaconFrame returns the topic for advertising start reports.
//
// Example: graylogic/beacon/hall-01/frame
func (Topics) BeaconFrame(beaconID string) string {
	return fmt.Sprintf("%s/%s/frame", TopicPrefixBeacon, beaconID)
}

// BeaconTelemetry returns the topic for decoded TLM readings.
//
// Example: graylogic/beacon/hall-01/telemetry
func (Topics) BeaconTelemetry(beaconID string) string {
	return fmt.Sprintf("%s/%s/telemetry", TopicPrefixBeacon, beaconID)
}

// BeaconStatus returns the retained state snapshot topic.
//
// Example: graylogic/beacon/hall-01/status
func (Topics) BeaconStatus(beaconID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixBeacon, beaconID)
}

// BeaconCommand returns the topic for a configuration write.
//
// Example: graylogic/beacon/hall-01/command/adv_interval
func (Topics) BeaconCommand(beaconID, characteristic string) string {
	return fmt.Sprintf("%s/%s/command/%s", TopicPrefixBeacon, beaconID, characteristic)
}

// BeaconCommandResult returns the topic for command outcomes.
//
// Example: graylogic/beacon/hall-01/command_result
func (Topics) BeaconCommandResult(beaconID string) string {
	return fmt.Sprintf("%s/%s/command_result", TopicPrefixBeacon, beaconID)
}

// BeaconAvailability returns the retained online/offline topic. The Last
// Will is registered here.
//
// Example: graylogic/beacon/hall-01/availability
func (Topics) BeaconAvailability(beaconID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixBeacon, beaconID)
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllBeaconCommands returns a wildcard for every command to one beacon.
//
// Pattern: graylogic/beacon/{beacon_id}/command/+
func (Topics) AllBeaconCommands(beaconID string) string {
	return fmt.Sprintf("%s/%s/command/+", TopicPrefixBeacon, beaconID)
}

// AllBeacons returns a wildcard for every topic of every beacon.
//
// Pattern: graylogic/beacon/#
func (Topics) AllBeacons() string {
	return TopicPrefixBeacon + "/#"
}

// ParseBeaconCommand splits a command topic into the beacon ID and the
// characteristic name. ok is false for any other topic.
func ParseBeaconCommand(topic string) (beaconID, characteristic string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixBeacon+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "command" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
