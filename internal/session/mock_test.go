package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/mqtt"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	closed        bool
	handlers      map[string]mqtt.MessageHandler
	connectErr    error

	// onPublish, when set, is called after every recorded publish.
	onPublish func(p mockPublish)

	onConnect      func()
	onDisconnect   func(err error)
	onReconnecting func()
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Connect(context.Context) error {
	m.mu.Lock()
	if m.connectErr != nil {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.connected = true
	callback := m.onConnect
	m.mu.Unlock()

	if callback != nil {
		callback()
	}
	return nil
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	p := mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained}
	m.published = append(m.published, p)
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetOnConnect(callback func()) {
	m.mu.Lock()
	m.onConnect = callback
	m.mu.Unlock()
}

func (m *MockMQTTClient) SetOnDisconnect(callback func(err error)) {
	m.mu.Lock()
	m.onDisconnect = callback
	m.mu.Unlock()
}

func (m *MockMQTTClient) SetOnReconnecting(callback func()) {
	m.mu.Lock()
	m.onReconnecting = callback
	m.mu.Unlock()
}

func (m *MockMQTTClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	return nil
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

func (m *MockMQTTClient) SetOnPublish(hook func(p mockPublish)) {
	m.mu.Lock()
	m.onPublish = hook
	m.mu.Unlock()
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		_ = handler(topic, payload) //nolint:errcheck // Session handlers log their own errors
	}
}

// SimulateDisconnect simulates a lost connection.
func (m *MockMQTTClient) SimulateDisconnect(err error) {
	m.mu.Lock()
	m.connected = false
	callback := m.onDisconnect
	m.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// SimulateReconnecting simulates the client starting a reconnect attempt.
func (m *MockMQTTClient) SimulateReconnecting() {
	m.mu.Lock()
	callback := m.onReconnecting
	m.mu.Unlock()
	if callback != nil {
		callback()
	}
}

// recordingLogger captures log messages by level.
type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// decodeEnvelope unmarshals a published payload.
func decodeEnvelope(t *testing.T, payload []byte) map[string]json.RawMessage {
	t.Helper()
	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("published payload is not JSON: %v", err)
	}
	return env
}

// newTestSwitch is a minimal device type for session tests.
func newTestSwitch(host device.Host, address, primary, name string) (*device.Device, error) {
	return device.New(host, device.Spec{
		TypeID:  "switch",
		Address: address,
		Primary: primary,
		Name:    name,
		Attributes: map[string]device.AttributeSpec{
			"ST": {Value: 0, Unit: device.UnitBoolean},
		},
		Commands: map[string]device.CommandHandler{
			"DON": func(_ context.Context, d *device.Device, _ device.Command) error {
				return d.Set("ST", true)
			},
			"DOF": func(_ context.Context, d *device.Device, _ device.Command) error {
				return d.Set("ST", false)
			},
		},
	})
}
