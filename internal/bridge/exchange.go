package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/realtime"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// exchange accumulates the outcome of one audio request.
type exchange struct {
	req        *protocol.AudioRequest
	start      time.Time
	chunks     int
	bytesOut   int
	transcript strings.Builder
}

func (x *exchange) elapsedMS() float64 {
	return float64(time.Since(x.start).Microseconds()) / 1000
}

// handleAudioRequest runs one request end to end: admit, obtain a backend,
// send the audio and relay every response chunk in backend order. Every
// failure is reported to the device as an error message; the lease is
// always released.
func (b *Bridge) handleAudioRequest(req *protocol.AudioRequest) {
	x := &exchange{req: req, start: time.Now()}

	b.logInfo("processing audio request",
		"device_id", req.DeviceID,
		"session_id", req.SessionID,
		"message_id", req.MessageID,
		"audio_bytes", len(req.Audio))

	if len(req.Audio) == 0 {
		b.fail(x, errEmptyAudio, journal.OutcomeRejected)
		return
	}

	lease, err := b.registry.Admit(b.ctx, req.DeviceID, req.SessionID)
	if err != nil {
		b.fail(x, err, journal.OutcomeRejected)
		return
	}
	defer lease.Release()

	sess := lease.Session()
	sess.Lock()
	defer sess.Unlock()

	done, err := b.acquireWorker(b.ctx)
	if err != nil {
		b.fail(x, err, journal.OutcomeFailed)
		return
	}
	defer done()
	sess.Touch()

	if err := b.relay(b.ctx, sess, x); err != nil {
		b.fail(x, err, journal.OutcomeFailed)
		return
	}
	b.complete(x)
}

// relay drives the backend for one request. Chunks are published as they
// arrive; a failed publish is logged and the stream continues.
func (b *Bridge) relay(ctx context.Context, sess *session.Session, x *exchange) error {
	backend, err := b.backendFor(ctx, sess, x.req)
	if err != nil {
		return err
	}

	if err := backend.SendAudio(ctx, x.req.Audio); err != nil {
		return err
	}

	cost := protocol.EstimateCost(len(x.req.Audio))
	chunks, errc := backend.Receive(ctx)
	for chunk := range chunks {
		sess.Touch()

		resp := protocol.NewAudioResponse(x.req, x.chunks, chunk.Audio, chunk.Transcript)
		// The total is unknown while the backend is still streaming.
		resp.Metadata.TotalChunks = 0
		resp.ProcessingTimeMS = x.elapsedMS()
		resp.CostEstimate = cost
		resp.ResponseMetadata = map[string]any{"type": string(chunk.Kind)}

		x.chunks++
		x.bytesOut += len(chunk.Audio)
		x.transcript.WriteString(chunk.Transcript)

		if err := b.publish(x.req.DeviceID, resp); err != nil {
			b.logError("failed to publish audio response", err)
			continue
		}
		b.stats.responsesSent.Add(1)
	}
	return <-errc
}

// backendFor returns the session's backend, reusing it when still usable and
// otherwise opening and negotiating a new one. The new backend is attached
// before connecting so a concurrent release closes it.
func (b *Bridge) backendFor(ctx context.Context, sess *session.Session, req *protocol.AudioRequest) (Backend, error) {
	if existing, ok := sess.Backend().(Backend); ok && existing.Ready() {
		b.logDebug("reusing backend session", "device_id", req.DeviceID, "session_id", req.SessionID)
		return existing, nil
	}

	backend := b.newBackend()
	if prev := sess.Attach(backend); prev != nil {
		prev.Close() //nolint:errcheck // stale backend, already failed
	}

	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}
	if err := backend.Negotiate(ctx, b.sessionOptions(req)); err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *Bridge) sessionOptions(req *protocol.AudioRequest) realtime.Options {
	opts := realtime.Options{
		Voice:        req.Voice,
		Instructions: req.Instructions,
		Format:       req.Metadata.Format,
	}
	if opts.Instructions == "" {
		if s, ok := req.Config["instructions"].(string); ok {
			opts.Instructions = s
		}
	}
	if opts.Voice == "" {
		opts.Voice = b.cfg.Voice
	}
	if opts.Instructions == "" {
		opts.Instructions = b.cfg.Instructions
	}
	return opts
}

func (b *Bridge) complete(x *exchange) {
	b.stats.requestsProcessed.Add(1)

	duration := x.elapsedMS()
	b.logInfo("audio request completed",
		"device_id", x.req.DeviceID,
		"session_id", x.req.SessionID,
		"chunks", x.chunks,
		"duration_ms", duration)

	b.record(x, journal.OutcomeCompleted, "", duration)
}

// fail reports err to the device and records the failed exchange.
func (b *Bridge) fail(x *exchange, err error, outcome string) {
	b.stats.errors.Add(1)
	code := ErrorCode(err)

	b.logErrorKV("audio request failed",
		"device_id", x.req.DeviceID,
		"session_id", x.req.SessionID,
		"code", code,
		"error", err)

	msg := protocol.NewError(x.req.DeviceID, x.req.SessionID, code, errorMessage(err), x.req.MessageID)
	if perr := b.publish(x.req.DeviceID, msg); perr != nil {
		b.logError("failed to publish error response", perr)
	}

	b.record(x, outcome, code, x.elapsedMS())
}

// record writes the exchange to the journal, telemetry and event sink.
// All three are best effort.
func (b *Bridge) record(x *exchange, outcome, code string, durationMS float64) {
	ex := journal.Exchange{
		ID:            uuid.NewString(),
		DeviceID:      x.req.DeviceID,
		SessionID:     x.req.SessionID,
		RequestID:     x.req.MessageID,
		Outcome:       outcome,
		ErrorCode:     code,
		Chunks:        x.chunks,
		AudioBytesIn:  len(x.req.Audio),
		AudioBytesOut: x.bytesOut,
		Transcript:    x.transcript.String(),
		DurationMS:    durationMS,
		CostEstimate:  protocol.EstimateCost(len(x.req.Audio)),
		CreatedAt:     x.start.UTC(),
	}

	if b.journal != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), recordTimeout)
		if err := b.journal.Record(ctx, ex); err != nil {
			b.logError("failed to journal exchange", err)
		}
		cancel()
	}

	if b.telemetry != nil {
		b.telemetry.WriteExchange(ex.DeviceID, ex.Outcome, ex.Chunks, ex.DurationMS,
			ex.AudioBytesIn, ex.AudioBytesOut, ex.CostEstimate)
	}

	if b.events != nil {
		channel := EventExchangeCompleted
		if outcome != journal.OutcomeCompleted {
			channel = EventExchangeFailed
		}
		b.events.Broadcast(channel, ex)
	}
}
