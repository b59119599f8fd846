// Package mqtt provides MQTT client connectivity for the voice bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Devices and the bridge never talk directly; the broker carries audio
// requests in and response chunks, errors and health out.
//
//	Devices ↔ MQTT Broker ↔ Voice Bridge ↔ Speech backend
//
// # Security Considerations
//
//   - Use TLS outside a trusted network (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Audio payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:   "iot/server/health",
//	    Payload: offline,
//	    QoS:     1,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("iot/+/audio_request", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
