// Package realtime is a client for a speech-to-speech backend that speaks the
// OpenAI Realtime event protocol over WebSocket.
//
// A Session moves through these states:
//
//	Disconnected → Connecting → Negotiating → Streaming → Draining
//
// with Draining → Streaming when the session serves another request, and an
// edge to Closed from every state. Operations invalid for the current state
// return ErrInvalidTransition.
//
// Connect tries each connection Strategy once in order (bearer token with the
// beta header, bearer token alone, api-key header). Negotiate sends
// session.update and waits for confirmation. SendAudio appends, commits and
// requests a response; Receive streams the resulting audio and transcript
// deltas until response.done.
//
// Usage:
//
//	s := realtime.New(cfg, realtime.WithLogger(log))
//	defer s.Close()
//	if err := s.Connect(ctx); err != nil { ... }
//	if err := s.Negotiate(ctx, realtime.Options{Voice: "alloy"}); err != nil { ... }
//	if err := s.SendAudio(ctx, pcm); err != nil { ... }
//	chunks, errc := s.Receive(ctx)
//	for c := range chunks { ... }
//	if err := <-errc; err != nil { ... }
package realtime
