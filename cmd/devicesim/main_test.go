package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/voice-bridge/internal/protocol"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"custom device", []string{"-device", "kitchen", "-session", "s1"}, false},
		{"empty device", []string{"-device", ""}, true},
		{"bad qos", []string{"-qos", "3"}, true},
		{"zero timeout", []string{"-response-timeout", "0s"}, true},
		{"unknown flag", []string{"-nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && o.sessionID == "" {
				t.Error("parseFlags() left session id empty")
			}
		})
	}
}

func TestGenerateTone(t *testing.T) {
	audio := generateTone(440, 500*time.Millisecond, 16000)
	if len(audio) != 16000 {
		t.Fatalf("len(generateTone()) = %d, want 16000", len(audio))
	}
	if s := int16(binary.LittleEndian.Uint16(audio[0:])); s != 0 {
		t.Errorf("first sample = %d, want 0", s)
	}

	peak := int16(0)
	for i := 0; i < len(audio); i += 2 {
		if s := int16(binary.LittleEndian.Uint16(audio[i:])); s > peak {
			peak = s
		}
	}
	if peak < 9000 || peak > 10000 {
		t.Errorf("peak sample = %d, want about 0.3 of full scale", peak)
	}

	if got := generateTone(440, 0, 16000); got != nil {
		t.Errorf("generateTone(0s) = %d bytes, want nil", len(got))
	}
}

func TestLoadAudio(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		format  string
		wantErr bool
	}{
		{"pcm16 even", write("even.pcm", []byte{1, 2, 3, 4}), "pcm16", false},
		{"pcm16 odd", write("odd.pcm", []byte{1, 2, 3}), "pcm16", true},
		{"other format odd", write("odd.mp3", []byte{1, 2, 3}), "mp3", false},
		{"empty", write("empty.pcm", nil), "pcm16", true},
		{"missing", filepath.Join(dir, "missing.pcm"), "pcm16", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadAudio(tt.path, tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("loadAudio() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitChunks(t *testing.T) {
	audio := make([]byte, 10)
	tests := []struct {
		name  string
		size  int
		sizes []int
	}{
		{"single", 0, []int{10}},
		{"larger than audio", 64, []int{10}},
		{"even split", 4, []int{4, 4, 2}},
		{"odd size rounds up", 3, []int{4, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitChunks(audio, tt.size)
			if len(chunks) != len(tt.sizes) {
				t.Fatalf("len(splitChunks()) = %d, want %d", len(chunks), len(tt.sizes))
			}
			for i, c := range chunks {
				if len(c) != tt.sizes[i] {
					t.Errorf("chunk %d len = %d, want %d", i, len(c), tt.sizes[i])
				}
			}
		})
	}
}

func TestBuildRequests(t *testing.T) {
	o := options{
		deviceID:   "d1",
		sessionID:  "s1",
		format:     "pcm16",
		sampleRate: 16000,
		chunkSize:  16000,
		voice:      "verse",
	}
	reqs, err := buildRequests(o, make([]byte, 40000))
	if err != nil {
		t.Fatalf("buildRequests() error = %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("len(buildRequests()) = %d, want 3", len(reqs))
	}
	for i, r := range reqs {
		if r.DeviceID != "d1" || r.SessionID != "s1" {
			t.Errorf("request %d addressed to %s/%s", i, r.DeviceID, r.SessionID)
		}
		if r.Metadata.ChunkID != i || r.Metadata.TotalChunks != 3 {
			t.Errorf("request %d metadata = %+v", i, r.Metadata)
		}
		if r.Voice != "verse" {
			t.Errorf("request %d voice = %q", i, r.Voice)
		}
	}
	if d := reqs[0].Metadata.DurationMS; d == nil || *d != 500 {
		t.Errorf("first chunk duration = %v, want 500ms", d)
	}
}

func TestDeviceTopic(t *testing.T) {
	if got := deviceTopic("iot/{device_id}/audio_request", "hall"); got != "iot/hall/audio_request" {
		t.Errorf("deviceTopic() = %q", got)
	}
}

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func TestReceiver_CollectsUntilSilence(t *testing.T) {
	req := protocol.NewAudioRequest("d1", "s1", []byte{0, 0})
	other := protocol.NewAudioRequest("d1", "other", []byte{0, 0})

	rx := newReceiver("s1")
	rx.handle(encode(t, protocol.NewAudioResponse(req, 0, []byte{1, 2}, "hel")))
	rx.handle(encode(t, protocol.NewAudioResponse(other, 0, []byte{9, 9}, "")))
	rx.handle([]byte("not json"))
	rx.handle(encode(t, protocol.NewAudioResponse(req, 1, []byte{3, 4}, "lo")))

	var out bytes.Buffer
	res := rx.wait(context.Background(), 50*time.Millisecond, &out)
	if res.err != nil {
		t.Fatalf("wait() error = %v", res.err)
	}
	if res.chunks != 2 {
		t.Errorf("chunks = %d, want 2", res.chunks)
	}
	if !bytes.Equal(res.audio, []byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v, want [1 2 3 4]", res.audio)
	}
	if !strings.Contains(out.String(), `transcript "hel"`) {
		t.Errorf("output = %q, want transcript", out.String())
	}
}

func TestReceiver_Error(t *testing.T) {
	rx := newReceiver("s1")
	rx.handle(encode(t, protocol.NewError("d1", "s1", "SERVICE_UNAVAILABLE", "backend down", "")))

	res := rx.wait(context.Background(), time.Second, &bytes.Buffer{})
	if res.err == nil || !strings.Contains(res.err.Error(), "SERVICE_UNAVAILABLE") {
		t.Errorf("wait() error = %v, want SERVICE_UNAVAILABLE", res.err)
	}
}

func TestReceiver_NoResponse(t *testing.T) {
	rx := newReceiver("s1")
	res := rx.wait(context.Background(), 20*time.Millisecond, &bytes.Buffer{})
	if res.err == nil {
		t.Error("wait() should fail when nothing arrives")
	}
}

func TestReceiver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newReceiver("s1").wait(ctx, time.Second, &bytes.Buffer{})
	if res.err != context.Canceled {
		t.Errorf("wait() error = %v, want context.Canceled", res.err)
	}
}
