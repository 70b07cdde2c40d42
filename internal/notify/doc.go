// Package notify publishes registry change events.
//
// Every create, update, remove, configure and template.update event is
// handed to a Dispatcher, which fans it out to the configured sinks: the
// MQTT bus (the primary consumer contract), the audit history, InfluxDB
// counters and live websocket clients.
//
// Callers publish only after their transaction has committed, so a sink
// never announces state that could still roll back.
package notify
