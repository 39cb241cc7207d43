// Package mqtt provides MQTT client connectivity for the arbiter.
//
// The arbiter uses the Gray Logic MQTT bus in three ways:
//   - notifications for people go to {prefix}/notification
//   - engine events (quarantined, released, override, mismatch, replayed)
//     go to {prefix}/event/{kind}
//   - other services send device commands to {prefix}/command/{device_id}
//
// A retained status message on {prefix}/status, backed by an LWT, tells
// subscribers whether the arbiter is up.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) outside a trusted LAN
//   - Credentials are validated against broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1, handleCommand)
package mqtt
