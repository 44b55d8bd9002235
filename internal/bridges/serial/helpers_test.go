package serial

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// fakeSender records routed commands.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(commandText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, commandText)
	return nil
}

func (s *fakeSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// outcomeRecorder collects outcomes.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) OnOutcome(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *outcomeRecorder) All() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func (r *outcomeRecorder) WithStatus(status OutcomeStatus) []Outcome {
	var out []Outcome
	for _, o := range r.All() {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// fakeSubmitter records what a session hands to the engine.
type fakeSubmitter struct {
	mu       sync.Mutex
	requests []Request
	acks     []Ack
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeSubmitter) Ack(_ context.Context, ack Ack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.acks = append(f.acks, ack)
	return nil
}

func (f *fakeSubmitter) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *fakeSubmitter) Acks() []Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Ack(nil), f.acks...)
}

// record is one Sink.Record call.
type record struct {
	DeviceID, DataType, Metric, Value string
}

// fakeSink records readings.
type fakeSink struct {
	mu      sync.Mutex
	records []record
	err     error
}

func (s *fakeSink) Record(_ context.Context, deviceID, dataType, metricName, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record{deviceID, dataType, metricName, value})
	return nil
}

func (s *fakeSink) Records() []record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record(nil), s.records...)
}

// published is one MQTT publish.
type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// fakeMQTT is an in-memory MQTTClient.
type fakeMQTT struct {
	mu        sync.Mutex
	messages  []published
	handlers  map[string]func(string, []byte)
	connected bool
	err       error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]func(string, []byte)), connected: true}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{topic, append([]byte(nil), payload...), qos, retained})
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMQTT) Handler(topic string) func(string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func (m *fakeMQTT) OnTopic(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

var errBoom = errors.New("boom")
