// Command devicesim plays the part of an IoT device: it sends one spoken
// request to the voice bridge over MQTT and prints the response stream.
//
//	devicesim -broker tcp://localhost:1883 -device kitchen-speaker -tone 2s
//	devicesim -device hall -audio question.pcm -chunk-size 32000 -out answer.pcm
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/voice-bridge/internal/protocol"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type options struct {
	broker          string
	username        string
	password        string
	deviceID        string
	sessionID       string
	requestTopic    string
	responseTopic   string
	controlTopic    string
	qos             int
	audioPath       string
	format          string
	sampleRate      int
	tone            time.Duration
	toneFreq        float64
	chunkSize       int
	voice           string
	instructions    string
	language        string
	responseTimeout time.Duration
	endSession      bool
	outPath         string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("devicesim", flag.ContinueOnError)
	fs.StringVar(&o.broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	fs.StringVar(&o.username, "username", "", "MQTT username")
	fs.StringVar(&o.password, "password", "", "MQTT password")
	fs.StringVar(&o.deviceID, "device", "devicesim", "device id")
	fs.StringVar(&o.sessionID, "session", "", "session id (default: random)")
	fs.StringVar(&o.requestTopic, "request-topic", "iot/{device_id}/audio_request", "request topic template")
	fs.StringVar(&o.responseTopic, "response-topic", protocol.DefaultResponseTopic, "response topic template")
	fs.StringVar(&o.controlTopic, "control-topic", "iot/{device_id}/session", "session control topic template")
	fs.IntVar(&o.qos, "qos", 1, "MQTT QoS (0-2)")
	fs.StringVar(&o.audioPath, "audio", "", "raw audio file to send instead of a tone")
	fs.StringVar(&o.format, "format", protocol.DefaultFormat, "audio format")
	fs.IntVar(&o.sampleRate, "sample-rate", protocol.DefaultSampleRate, "sample rate in Hz")
	fs.DurationVar(&o.tone, "tone", 2*time.Second, "length of the generated tone")
	fs.Float64Var(&o.toneFreq, "tone-freq", 440, "tone frequency in Hz")
	fs.IntVar(&o.chunkSize, "chunk-size", 0, "split the request into chunks of this many bytes (0: one chunk)")
	fs.StringVar(&o.voice, "voice", "", "response voice")
	fs.StringVar(&o.instructions, "instructions", "", "response instructions")
	fs.StringVar(&o.language, "language", "", "request language")
	fs.DurationVar(&o.responseTimeout, "response-timeout", 30*time.Second, "exit after this long without a response chunk")
	fs.BoolVar(&o.endSession, "end-session", false, "send session_end once the response is complete")
	fs.StringVar(&o.outPath, "out", "", "write received response audio to this file")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.deviceID == "" {
		return options{}, errors.New("-device must not be empty")
	}
	if o.qos < 0 || o.qos > 2 {
		return options{}, fmt.Errorf("-qos must be 0, 1 or 2, got %d", o.qos)
	}
	if o.responseTimeout <= 0 {
		return options{}, errors.New("-response-timeout must be positive")
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer) error {
	audio, err := requestAudio(o)
	if err != nil {
		return err
	}

	client := pahomqtt.NewClient(pahomqtt.NewClientOptions().
		AddBroker(o.broker).
		SetClientID("iot-client-" + o.deviceID).
		SetUsername(o.username).
		SetPassword(o.password).
		SetConnectTimeout(connectTimeout))

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connecting to %s: timeout", o.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", o.broker, err)
	}
	defer client.Disconnect(250)
	fmt.Fprintf(out, "connected to %s as %s\n", o.broker, o.deviceID)

	qos := byte(o.qos)
	rx := newReceiver(o.sessionID)
	responseTopic := deviceTopic(o.responseTopic, o.deviceID)
	token = client.Subscribe(responseTopic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		rx.handle(msg.Payload())
	})
	if err := waitToken(token); err != nil {
		return fmt.Errorf("subscribing to %s: %w", responseTopic, err)
	}

	requests, err := buildRequests(o, audio)
	if err != nil {
		return err
	}
	requestTopic := deviceTopic(o.requestTopic, o.deviceID)
	for _, req := range requests {
		payload, err := protocol.Encode(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		if err := waitToken(client.Publish(requestTopic, qos, false, payload)); err != nil {
			return fmt.Errorf("publishing request: %w", err)
		}
	}
	fmt.Fprintf(out, "sent %d chunk(s), %d bytes of %s audio (session %s)\n",
		len(requests), len(audio), o.format, o.sessionID)

	result := rx.wait(ctx, o.responseTimeout, out)

	if o.endSession {
		if err := publishSessionEnd(client, o, qos); err != nil {
			fmt.Fprintf(out, "session_end failed: %v\n", err)
		}
	}

	if o.outPath != "" && len(result.audio) > 0 {
		if err := os.WriteFile(o.outPath, result.audio, 0o600); err != nil {
			return fmt.Errorf("writing response audio: %w", err)
		}
		fmt.Fprintf(out, "wrote %d bytes to %s\n", len(result.audio), o.outPath)
	}

	fmt.Fprintf(out, "received %d chunk(s), %d bytes\n", result.chunks, len(result.audio))
	if result.err != nil {
		return result.err
	}
	return nil
}

// requestAudio loads the audio file or generates the tone.
func requestAudio(o options) ([]byte, error) {
	if o.audioPath != "" {
		return loadAudio(o.audioPath, o.format)
	}
	audio := generateTone(o.toneFreq, o.tone, o.sampleRate)
	if len(audio) == 0 {
		return nil, errors.New("no audio: set -audio or a positive -tone")
	}
	return audio, nil
}

// buildRequests splits audio into numbered request chunks of one session.
func buildRequests(o options, audio []byte) ([]*protocol.AudioRequest, error) {
	chunks := splitChunks(audio, o.chunkSize)
	reqs := make([]*protocol.AudioRequest, 0, len(chunks))
	for i, chunk := range chunks {
		req := protocol.NewAudioRequest(o.deviceID, o.sessionID, chunk)
		req.Metadata.Format = o.format
		req.Metadata.SampleRate = o.sampleRate
		req.Metadata.ChunkID = i
		req.Metadata.TotalChunks = len(chunks)
		if o.format == protocol.DefaultFormat {
			d := durationMS(chunk, o.sampleRate)
			req.Metadata.DurationMS = &d
		}
		req.Voice = o.voice
		req.Instructions = o.instructions
		req.Language = o.language
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, errors.New("no audio chunks to send")
	}
	return reqs, nil
}

func publishSessionEnd(client pahomqtt.Client, o options, qos byte) error {
	msg := &protocol.SessionControl{Envelope: protocol.Envelope{
		MessageID: protocol.NewMessageID(),
		DeviceID:  o.deviceID,
		Timestamp: protocol.Now(),
		Kind:      protocol.KindSessionEnd,
		SessionID: o.sessionID,
	}}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return waitToken(client.Publish(deviceTopic(o.controlTopic, o.deviceID), qos, false, payload))
}

func deviceTopic(template, deviceID string) string {
	return protocol.Topics{Response: template}.ResponseTopic(deviceID)
}

func waitToken(t pahomqtt.Token) error {
	if !t.WaitTimeout(publishTimeout) {
		return errors.New("timeout")
	}
	return t.Error()
}
