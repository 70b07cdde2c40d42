// Package mqtt provides the message-bus transport for registry change events.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Event publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//
// Events are published per tenant on devmgr/{tenant}/{subject}; downstream
// consumers subscribe to devmgr/+/{subject} to receive every tenant.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.TenantEvents("acme", cfg.MQTT.Subject)
//	err = client.PublishEvent(topic, payload)
//
// TLS should be enabled outside local development (cfg.Broker.TLS=true).
package mqtt
