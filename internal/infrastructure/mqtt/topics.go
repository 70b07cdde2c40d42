package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the registry publishes on.
const TopicPrefix = "devmgr"

// Topics provides builders for registry MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.TenantEvents("acme", "device")
//	// Returns: "devmgr/acme/device"
type Topics struct{}

// TenantEvents returns the topic change events for tenant are published on.
// subject is the configured mqtt.subject.
//
// Example: devmgr/acme/device
func (Topics) TenantEvents(tenant, subject string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, tenant, subject)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: devmgr/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllTenantEvents returns a subscription filter matching every tenant's
// events for subject. Intended for downstream consumers.
//
// Example: devmgr/+/device
func (Topics) AllTenantEvents(subject string) string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, subject)
}

// ValidateTopic rejects topics that cannot be published to: empty topics,
// wildcards, empty levels and NUL characters.
func ValidateTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, "+#\x00") {
		return ErrInvalidTopic
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return ErrInvalidTopic
		}
	}
	return nil
}
