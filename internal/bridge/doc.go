// Package bridge relays audio requests from IoT devices over MQTT to the
// streaming speech backend and publishes the responses back to each device.
//
// # Request flow
//
//	iot/{device}/audio_request
//	    → decode → admit (session.Registry) → lock session → worker slot
//	    → connect + negotiate (or reuse a ready backend)
//	    → send audio → one audio_response per backend chunk
//	iot/{device}/audio_response
//
// Any failure after decoding is published to the device as an error message
// with one of the Code* values; undecodable messages are logged, counted and
// dropped.
//
// # Health
//
// HealthReporter publishes a retained HealthCheck on iot/server/health every
// interval. Broker loss reports "unhealthy"; a failed backend probe reports
// "degraded". The MQTT last will (OfflinePayload) announces "offline".
package bridge
