package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the event name carried in every message.
type Kind string

// Event kinds published by the registry.
const (
	KindCreate         Kind = "create"
	KindUpdate         Kind = "update"
	KindRemove         Kind = "remove"
	KindConfigure      Kind = "configure"
	KindTemplateUpdate Kind = "template.update"
)

// Entity types an event can refer to.
const (
	EntityDevice   = "device"
	EntityTemplate = "template"
)

// Meta is the envelope metadata. Service is the tenant.
type Meta struct {
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Event is one change notification, serialised as {event, data, meta}.
//
// EntityType and EntityID describe what changed for the history and metrics
// sinks; they are not part of the wire format.
type Event struct {
	Event Kind `json:"event"`
	Data  any  `json:"data"`
	Meta  Meta `json:"meta"`

	EntityType string `json:"-"`
	EntityID   string `json:"-"`
}

// Tenant returns the tenant the event is scoped to.
func (e Event) Tenant() string {
	return e.Meta.Service
}

// Marshal encodes the wire format.
func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Event, err)
	}
	return b, nil
}

// DeviceEvent builds a create/update/remove event for device data.
func DeviceEvent(kind Kind, tenant, deviceID string, data any) Event {
	return Event{
		Event:      kind,
		Data:       data,
		Meta:       Meta{Service: tenant},
		EntityType: EntityDevice,
		EntityID:   deviceID,
	}
}

// ConfigureEvent builds an actuation request for a device. It carries a
// millisecond timestamp so consumers can drop stale commands.
func ConfigureEvent(tenant, deviceID string, attrs map[string]any, now time.Time) Event {
	return Event{
		Event: KindConfigure,
		Data: map[string]any{
			"id":    deviceID,
			"attrs": attrs,
		},
		Meta:       Meta{Service: tenant, Timestamp: now.UnixMilli()},
		EntityType: EntityDevice,
		EntityID:   deviceID,
	}
}

// TemplateUpdateEvent announces a template change and the devices it touched.
func TemplateUpdateEvent(tenant string, templateID int64, affected []string, template any) Event {
	if affected == nil {
		affected = []string{}
	}
	return Event{
		Event: KindTemplateUpdate,
		Data: map[string]any{
			"affected": affected,
			"template": template,
		},
		Meta:       Meta{Service: tenant},
		EntityType: EntityTemplate,
		EntityID:   fmt.Sprintf("%d", templateID),
	}
}
