package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/voice-bridge/internal/protocol"
)

// eventBuffer absorbs bursts of response chunks while wait is printing.
const eventBuffer = 1024

// receiver collects the messages delivered on the response topic for one
// session. handle runs on the paho callback goroutine; wait consumes.
type receiver struct {
	sessionID string
	events    chan protocol.Message
}

type result struct {
	chunks int
	audio  []byte
	err    error
}

func newReceiver(sessionID string) *receiver {
	return &receiver{
		sessionID: sessionID,
		events:    make(chan protocol.Message, eventBuffer),
	}
}

// handle decodes one payload and queues it if it belongs to the session.
// Undecodable payloads, other sessions' messages and messages arriving
// after the buffer filled up are dropped.
func (r *receiver) handle(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return
	}
	if msg.Header().SessionID != r.sessionID {
		return
	}
	select {
	case r.events <- msg:
	default:
	}
}

// wait prints incoming chunks until the bridge reports an error, ctx is
// cancelled or no message arrives for timeout.
func (r *receiver) wait(ctx context.Context, timeout time.Duration, out io.Writer) result {
	var res result

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			res.err = ctx.Err()
			return res

		case <-timer.C:
			if res.chunks == 0 {
				res.err = fmt.Errorf("no response within %s", timeout)
			}
			return res

		case msg := <-r.events:
			switch m := msg.(type) {
			case *protocol.AudioResponse:
				res.chunks++
				res.audio = append(res.audio, m.Audio...)
				fmt.Fprintf(out, "chunk %d: %d bytes, %.0f ms", m.Metadata.ChunkID, len(m.Audio), m.ProcessingTimeMS)
				if m.Transcript != "" {
					fmt.Fprintf(out, ", transcript %q", m.Transcript)
				}
				fmt.Fprintln(out)
			case *protocol.Error:
				fmt.Fprintf(out, "error %s: %s\n", m.Code, m.Message)
				res.err = errors.New(m.Code + ": " + m.Message)
				return res
			default:
				continue
			}
			timer.Reset(timeout)
		}
	}
}
