// Package influxdb records registry activity in InfluxDB.
//
// Every change event the registry publishes is also written as a point in
// the registry_events measurement, and every batch creation as a point in
// registry_batch_create, so event rates per tenant can be graphed without
// consuming the message bus.
//
// Writes are non-blocking and batched; failures arrive on the SetOnError
// callback. The integration is optional: Connect returns ErrDisabled when
// influxdb.enabled is false.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
package influxdb
