// Package logging configures log/slog for the voice bridge.
//
// Every entry carries service=voicebridge and the build version. Components
// derive child loggers with With("component", ...). Values of the keys
// api_key, password, token, audio and audio_data are always replaced with
// [REDACTED].
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
package logging
