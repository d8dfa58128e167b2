// Package mqtt provides MQTT client connectivity for a node server.
//
// This package manages:
//   - Connection to the gateway's broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored on every reconnect
//   - Retained presence and Last Will and Testament (LWT)
//   - Connection health monitoring
//
// # Architecture
//
// The gateway and each node server talk over a shared broker. Every node
// server owns one topic, keyed by the profile number the gateway assigned
// it, and both sides publish on it:
//
//	Node Server ↔ udi/polyglot/ns/<profile> ↔ Gateway
//
// Presence is tracked with retained messages on
// udi/polyglot/connections/<name>; the LWT flips ours to
// "connected": false if the process dies.
//
// # Security Considerations
//
//   - The gateway's broker normally requires TLS (ssl://); it ships a
//     self-signed certificate, so verification is configurable
//   - Credentials come from the startup parameters, falling back to config
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT, mqtt.EndpointFromParams(params))
//	if err != nil {
//	    return err
//	}
//	_ = client.Subscribe(client.Topics().NodeServer(3), 0, handle)
//	if err := client.Connect(ctx); err != nil {
//	    log.Warn("broker not reachable yet, retrying in background", "error", err)
//	}
//	defer client.Close()
package mqtt
