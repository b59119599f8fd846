package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/realtime"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// PublishedTo returns messages published to topic, in order.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload on topic to the handler subscribed with
// the given pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// flowTracker records how many backend flows overlap.
type flowTracker struct {
	active atomic.Int32
	max    atomic.Int32
}

func (f *flowTracker) begin() {
	n := f.active.Add(1)
	for {
		prev := f.max.Load()
		if n <= prev || f.max.CompareAndSwap(prev, n) {
			return
		}
	}
}

func (f *flowTracker) end() { f.active.Add(-1) }

// fakeBackend implements Backend with scripted results.
type fakeBackend struct {
	connectErr   error
	negotiateErr error
	sendErr      error
	receiveErr   error
	chunks       []realtime.Chunk

	// release, when set, holds Receive until closed or ctx is done.
	release chan struct{}
	flows   *flowTracker

	mu       sync.Mutex
	ready    bool
	closed   bool
	opts     realtime.Options
	sent     [][]byte
	connects int
}

func (f *fakeBackend) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeBackend) Negotiate(_ context.Context, opts realtime.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	if f.negotiateErr != nil {
		return f.negotiateErr
	}
	f.ready = true
	return nil
}

func (f *fakeBackend) SendAudio(_ context.Context, audio []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.flows != nil {
		f.flows.begin()
	}
	f.mu.Lock()
	f.sent = append(f.sent, audio)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Receive(ctx context.Context) (<-chan realtime.Chunk, <-chan error) {
	chunks := make(chan realtime.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(chunks)
		if f.flows != nil {
			defer f.flows.end()
		}

		if f.release != nil {
			select {
			case <-f.release:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		for _, c := range f.chunks {
			select {
			case chunks <- c:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if f.receiveErr != nil {
			f.mu.Lock()
			f.ready = false
			f.mu.Unlock()
		}
		errc <- f.receiveErr
	}()
	return chunks, errc
}

func (f *fakeBackend) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && !f.closed
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.ready = false
	return nil
}

func (f *fakeBackend) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// backendFactory hands out a single scripted backend and counts calls.
type backendFactory struct {
	backend *fakeBackend
	calls   atomic.Int32
}

func (f *backendFactory) New() Backend {
	f.calls.Add(1)
	return f.backend
}

// memoryJournal implements Journal.
type memoryJournal struct {
	mu        sync.Mutex
	exchanges []journal.Exchange
}

func (j *memoryJournal) Record(_ context.Context, ex journal.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.exchanges = append(j.exchanges, ex)
	return nil
}

func (j *memoryJournal) all() []journal.Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Exchange(nil), j.exchanges...)
}

// recordingSink implements EventSink.
type recordingSink struct {
	mu       sync.Mutex
	channels []string
}

func (s *recordingSink) Broadcast(channel string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
}

func (s *recordingSink) count(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.channels {
		if c == channel {
			n++
		}
	}
	return n
}

// recordingTelemetry implements Telemetry.
type recordingTelemetry struct {
	exchanges atomic.Int32
	stats     atomic.Int32
}

func (r *recordingTelemetry) WriteExchange(string, string, int, float64, int, int, float64) {
	r.exchanges.Add(1)
}

func (r *recordingTelemetry) WriteBridgeStats(int, uint64, uint64, uint64) {
	r.stats.Add(1)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func decode(t *testing.T, data []byte) protocol.Message {
	t.Helper()
	m, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return m
}
