package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the registry.
const (
	MeasurementRegistryEvents = "registry_events"
	MeasurementBatchCreate    = "registry_batch_create"
)

// WriteRegistryEvent records one published change event. Tenant, event kind
// and entity type are tags; the entity id is a field to keep series
// cardinality bounded.
func (c *Client) WriteRegistryEvent(tenant, event, entityType, entityID string) {
	c.writePoint(write.NewPointWithMeasurement(MeasurementRegistryEvents).
		AddTag("tenant", tenant).
		AddTag("event", event).
		AddTag("entity", entityType).
		AddField("count", 1).
		AddField("entity_id", entityID))
}

// WriteBatchResult records how many devices one batch request created and
// how many it rejected.
func (c *Client) WriteBatchResult(tenant string, successes, failures int) {
	c.writePoint(write.NewPointWithMeasurement(MeasurementBatchCreate).
		AddTag("tenant", tenant).
		AddField("successes", successes).
		AddField("failures", failures))
}

// writePoint stamps p with the current time and queues it. Points written
// while disconnected are dropped.
func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(p.SetTime(time.Now()))
}
