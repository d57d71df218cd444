package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "knxbridge"

// Topics builds the bridge's topic names below one prefix.
//
//	mqtt.NewTopics("knxbridge").AccessoryState("hall-light")
//	// knxbridge/accessory/hall-light/state
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	return Topics{prefix: prefix}
}

// Prefix returns the root topic level.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// =============================================================================
// Accessory Topics
// =============================================================================

// AccessoryState returns the retained state topic of an accessory.
//
// Example: knxbridge/accessory/hall-light/state
func (t Topics) AccessoryState(id string) string {
	return fmt.Sprintf("%s/accessory/%s/state", t.Prefix(), id)
}

// AccessorySet returns the command topic of an accessory.
//
// Example: knxbridge/accessory/hall-light/set
func (t Topics) AccessorySet(id string) string {
	return fmt.Sprintf("%s/accessory/%s/set", t.Prefix(), id)
}

// AllAccessorySets matches every accessory command topic.
//
// Pattern: knxbridge/accessory/+/set
func (t Topics) AllAccessorySets() string {
	return fmt.Sprintf("%s/accessory/+/set", t.Prefix())
}

// Ack returns the acknowledgement topic of an accessory.
//
// Example: knxbridge/ack/hall-light
func (t Topics) Ack(id string) string {
	return fmt.Sprintf("%s/ack/%s", t.Prefix(), id)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Health returns the periodic health report topic.
//
// Example: knxbridge/health
func (t Topics) Health() string {
	return t.Prefix() + "/health"
}

// Status returns the online/offline status topic, also used for the LWT.
//
// Example: knxbridge/status
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// AccessoryIDFromSetTopic extracts the accessory ID from a command topic,
// returning false if topic is not one.
func (t Topics) AccessoryIDFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix()+"/accessory/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
