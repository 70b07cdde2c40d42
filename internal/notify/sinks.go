package notify

import (
	"context"
	"fmt"

	"github.com/nerrad567/devmgr/internal/audit"
	"github.com/nerrad567/devmgr/internal/infrastructure/mqtt"
)

// Publisher is the part of mqtt.Client the MQTT sink uses.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// MQTTSink publishes events on devmgr/{tenant}/{subject}.
type MQTTSink struct {
	publisher Publisher
	subject   string
}

// NewMQTTSink creates a sink publishing through p.
func NewMQTTSink(p Publisher, subject string) *MQTTSink {
	return &MQTTSink{publisher: p, subject: subject}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Deliver implements Sink.
func (s *MQTTSink) Deliver(_ context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	topic := mqtt.Topics{}.TenantEvents(ev.Tenant(), s.subject)
	if err := s.publisher.PublishEvent(topic, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// AuditSink records every event in the history table.
type AuditSink struct {
	repo   audit.Repository
	source string
}

// NewAuditSink creates a sink writing to repo. source identifies this
// process in the history rows.
func NewAuditSink(repo audit.Repository, source string) *AuditSink {
	return &AuditSink{repo: repo, source: source}
}

// Name implements Sink.
func (s *AuditSink) Name() string { return "audit" }

// Deliver implements Sink.
func (s *AuditSink) Deliver(ctx context.Context, ev Event) error {
	var details map[string]any
	if m, ok := ev.Data.(map[string]any); ok {
		details = m
	} else if ev.Data != nil {
		details = map[string]any{"data": ev.Data}
	}

	return s.repo.Create(ctx, &audit.Event{
		Tenant:     ev.Tenant(),
		Action:     string(ev.Event),
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Source:     s.source,
		Details:    details,
	})
}

// PointWriter is the part of influxdb.Client the metrics sink uses.
type PointWriter interface {
	WriteRegistryEvent(tenant, event, entityType, entityID string)
}

// InfluxSink counts events per tenant and kind.
type InfluxSink struct {
	writer PointWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Deliver implements Sink. Writes are asynchronous so it never fails.
func (s *InfluxSink) Deliver(_ context.Context, ev Event) error {
	s.writer.WriteRegistryEvent(ev.Tenant(), string(ev.Event), ev.EntityType, ev.EntityID)
	return nil
}

// Broadcaster is the part of the websocket hub the live sink uses.
// channel is the event kind clients subscribe to.
type Broadcaster interface {
	Broadcast(tenant, channel string, payload any)
}

// HubSink pushes events to the tenant's connected websocket clients.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a sink broadcasting through hub.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// Name implements Sink.
func (s *HubSink) Name() string { return "websocket" }

// Deliver implements Sink.
func (s *HubSink) Deliver(_ context.Context, ev Event) error {
	s.hub.Broadcast(ev.Tenant(), string(ev.Event), ev)
	return nil
}
