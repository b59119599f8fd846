// Package protocol defines the device-facing message envelope and its JSON codec.
//
// Every message exchanged with a device is a single JSON document carrying a
// common envelope plus kind-specific fields:
//
//	{
//	  "message_id":   "4b0c…",
//	  "device_id":    "kitchen-speaker",
//	  "timestamp":    1767225600.25,
//	  "message_type": "audio_request",
//	  "session_id":   "s1",
//	  "audio_data":   "<base64>",
//	  "audio_metadata": {"format": "pcm16", "sample_rate": 16000, "channels": 1,
//	                     "chunk_id": 0, "total_chunks": 1}
//	}
//
// # Kinds
//
// The kind set is closed: audio_request, audio_response, error, health_check,
// session_start and session_end. Decode selects the concrete variant from the
// message_type tag, so a decoded value always matches its tag.
//
// # Errors
//
// Decode failures are reported as *DecodeError and match one of the sentinels
// with errors.Is:
//
//	ErrMalformedPayload  not a JSON object, or audio_data is not valid base64
//	ErrMissingKind       message_type absent or empty
//	ErrUnknownKind       message_type outside the closed set
//	ErrSchemaMismatch    a required field is missing or has the wrong JSON type
//
// # Audio payloads
//
// Audio bytes travel as standard base64 text and are decoded on ingress.
// Chunking is an application concern: each chunk is its own message and
// carries chunk_id / total_chunks in audio_metadata.
package protocol
