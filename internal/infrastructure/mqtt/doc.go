// Package mqtt provides MQTT client connectivity for skinnyd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// skinnyd uses MQTT as its integration surface: per-line device state is
// published retained so dashboards and hint consumers always see the
// current picture, manager-style events stream on skinny/manager/+, and
// voicemail systems push message counts on skinny/mwi/+ which the
// controller turns into lamp and envelope-tone updates on phones.
//
//	Phones ↔ skinnyd ↔ MQTT Broker ↔ voicemail / dashboards / tooling
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Watch every mailbox
//	err = client.Subscribe(mqtt.Topics{}.AllMWI(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish line state
//	topic := mqtt.Topics{}.DeviceState("reception", "SEP001122334455")
//	client.PublishRetained(topic, []byte(`{"state":"NOT_INUSE"}`))
package mqtt
