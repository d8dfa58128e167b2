package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/mqtt"
)

// DefaultRemoteService is the name the gateway uses on the bus.
const DefaultRemoteService = "polyglot"

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	// Connect starts connecting and waits for the first connection.
	Connect(ctx context.Context) error

	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic, restored on reconnect.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if the broker socket is up.
	IsConnected() bool

	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnReconnecting(callback func())

	// Close publishes offline presence and disconnects.
	Close() error
}

// StatusRecorder receives every attribute report. It is optional.
type StatusRecorder interface {
	RecordStatus(s device.Status)
}

// Logger defines the logging interface used by the session.
// Compatible with *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds configuration for creating a session.
type Options struct {
	// Client is the MQTT client implementation (required).
	Client MQTTClient

	// Types resolves snapshot type ids to device constructors (required).
	Types *device.TypeRegistry

	// ProfileNum is this node server's profile number (required).
	ProfileNum int

	// Namespace is the topic prefix; empty selects mqtt.DefaultNamespace.
	Namespace string

	// RemoteService is the gateway's name; empty selects DefaultRemoteService.
	RemoteService string

	// QoS for outbound messages and subscriptions.
	QoS byte

	// RequestTimeout for correlated requests; zero selects DefaultRequestTimeout.
	RequestTimeout time.Duration

	// LoopWindow and LoopThreshold configure the loop guard; zero selects defaults.
	LoopWindow    time.Duration
	LoopThreshold int

	// Repository enables the persistent device cache (optional).
	Repository device.Repository

	// Telemetry receives attribute reports (optional).
	Telemetry StatusRecorder

	// Logger is optional structured logger.
	Logger Logger
}

// Session connects a node server to the gateway's device bus.
//
// It owns the MQTT subscriptions and presence, classifies inbound messages,
// runs queued messages through a single-worker Sequencer, correlates
// acknowledged requests, and keeps the device Registry in step with the
// gateway's snapshots. Session implements device.Host.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	client         MQTTClient
	topics         mqtt.Topics
	profileNum     int
	node           string
	remote         string
	qos            byte
	requestTimeout time.Duration

	registry     *device.Registry
	sequencer    *Sequencer
	correlations *CorrelationTable
	loopGuard    *LoopGuard
	events       *emitter
	telemetry    StatusRecorder

	// Connectivity flags
	socketConnected atomic.Bool
	remotePresent   atomic.Bool

	// shutdown is set by stop/delete messages and Close.
	shutdown atomic.Bool

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// New creates a session. Call Start to subscribe and connect.
func New(opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Types == nil {
		return nil, fmt.Errorf("%w: type registry is required", ErrInvalidOptions)
	}
	if opts.ProfileNum < 1 {
		return nil, fmt.Errorf("%w: profile number must be positive", ErrInvalidOptions)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	remote := opts.RemoteService
	if remote == "" {
		remote = DefaultRemoteService
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	s := &Session{
		client:         opts.Client,
		topics:         mqtt.NewTopics(opts.Namespace),
		profileNum:     opts.ProfileNum,
		node:           nodeID(opts.ProfileNum),
		remote:         remote,
		qos:            opts.QoS,
		requestTimeout: timeout,
		correlations:   NewCorrelationTable(logger),
		loopGuard:      NewLoopGuard(opts.LoopWindow, opts.LoopThreshold),
		events:         newEmitter(),
		telemetry:      opts.Telemetry,
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         logger,
	}

	s.registry = device.NewRegistry(opts.Types, s)
	s.registry.SetLogger(logger)
	if opts.Repository != nil {
		s.registry.SetRepository(opts.Repository)
	}
	s.sequencer = NewSequencer(s.dispatch, logger)

	return s, nil
}

// On registers fn for events of the given kind. Register handlers before
// Start to observe the first connection.
func (s *Session) On(kind EventKind, fn EventHandler) {
	s.events.on(kind, fn)
}

// Registry returns the device registry.
func (s *Session) Registry() *device.Registry {
	return s.registry
}

// Topics returns the topic builder for this session's namespace.
func (s *Session) Topics() mqtt.Topics {
	return s.topics
}

// Start restores the device cache, subscribes, starts the sequencer and
// connects to the broker.
//
// A connection error is returned but is not fatal: the client keeps
// retrying and the connected event fires once the broker is reachable.
func (s *Session) Start(ctx context.Context) error {
	if s.shutdown.Load() {
		return ErrShuttingDown
	}

	if n, err := s.registry.Restore(ctx); err != nil {
		s.logger.Warn("device cache not restored", "error", err)
	} else if n > 0 {
		s.logger.Info("devices restored from cache", "count", n)
	}

	s.client.SetOnConnect(s.handleConnect)
	s.client.SetOnDisconnect(s.handleDisconnect)
	s.client.SetOnReconnecting(func() {
		s.logger.Info("reconnecting to broker")
		s.events.emit(Event{Kind: EventReconnecting})
	})

	ownTopic := s.topics.NodeServer(s.profileNum)
	if err := s.client.Subscribe(ownTopic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("subscribe to %s: %w", ownTopic, err)
	}
	presenceTopic := s.topics.Connections(s.remote)
	if err := s.client.Subscribe(presenceTopic, s.qos, s.handlePresence); err != nil {
		return fmt.Errorf("subscribe to %s: %w", presenceTopic, err)
	}

	s.sequencer.Start(s.ctx)

	s.logger.Info("session starting",
		"topic", ownTopic,
		"presence_topic", presenceTopic)

	if err := s.client.Connect(ctx); err != nil {
		s.logger.Warn("initial broker connection failed, retrying in background", "error", err)
		return err
	}
	return nil
}

// Close shuts the session down: queued messages are dropped, the in-flight
// one finishes, presence is withdrawn and the client disconnects. It emits
// closed and then ended. Subsequent calls are no-ops.
//
// Close waits for the sequencer, so it must not be called from an event
// handler.
func (s *Session) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.shutdown.Store(true)
		s.sequencer.Stop()
		s.ctxCancel()
		s.loopGuard.Stop()

		err = s.client.Close()
		s.socketConnected.Store(false)
		s.remotePresent.Store(false)

		s.logger.Info("session closed")
		s.events.emit(Event{Kind: EventClosed})
		s.events.emit(Event{Kind: EventEnded})
	})
	return err
}

// IsConnected reports whether the broker socket is up AND the gateway has
// announced itself on its presence topic.
func (s *Session) IsConnected() bool {
	return s.socketConnected.Load() && s.remotePresent.Load()
}

// ShuttingDown reports whether a stop/delete message arrived or Close ran.
func (s *Session) ShuttingDown() bool {
	return s.shutdown.Load()
}

// HealthCheck verifies the session can reach the gateway.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("session health check: %w", ctx.Err())
	default:
	}
	if !s.socketConnected.Load() {
		return mqtt.ErrNotConnected
	}
	if !s.remotePresent.Load() {
		return fmt.Errorf("%w: %s not present", mqtt.ErrNotConnected, s.remote)
	}
	return nil
}

func (s *Session) handleConnect() {
	s.socketConnected.Store(true)
	s.logger.Info("connected to broker")
	s.events.emit(Event{Kind: EventConnected})
}

func (s *Session) handleDisconnect(err error) {
	s.socketConnected.Store(false)
	s.logger.Warn("broker connection lost", "error", err)
	s.events.emit(Event{Kind: EventOffline, Err: err})
}

// handlePresence tracks the gateway's retained presence message.
func (s *Session) handlePresence(_ string, payload []byte) error {
	var msg presenceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("presence message dropped", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return nil
	}

	if was := s.remotePresent.Swap(msg.Connected); was != msg.Connected {
		s.logger.Info("gateway presence changed", "service", s.remote, "connected", msg.Connected)
	}
	return nil
}

// handleMessage classifies a message on our own topic. It runs on the MQTT
// client's ordered callback goroutine.
func (s *Session) handleMessage(_ string, payload []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn("inbound message dropped", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return nil
	}

	// Our own publications come back on the same topic.
	if origin := rawString(envelope[keyNode]); origin != s.remote {
		return nil
	}

	var decoded map[string]any
	_ = json.Unmarshal(payload, &decoded) //nolint:errcheck // Already validated above
	s.events.emit(Event{Kind: EventMessageReceived, Message: decoded})

	for key := range envelope {
		if !isKnownKey(key) {
			s.logger.Warn("inbound message key dropped",
				"error", fmt.Errorf("%w: unknown key %q", ErrProtocol, key))
		}
	}

	for _, key := range immediateKeys {
		if raw, ok := envelope[key]; ok {
			s.handleImmediate(key, raw)
		}
	}
	for _, key := range queuedKeys {
		if raw, ok := envelope[key]; ok {
			s.enqueue(key, raw)
		}
	}
	return nil
}

// handleImmediate handles result, stop and delete on receipt.
func (s *Session) handleImmediate(key string, raw json.RawMessage) {
	switch key {
	case keyResult:
		s.correlations.HandleResult(raw)
	case keyStop:
		s.shutdown.Store(true)
		s.logger.Info("stop requested by gateway")
		s.events.emit(Event{Kind: EventStop})
	case keyDelete:
		s.shutdown.Store(true)
		s.logger.Info("delete requested by gateway")
		s.events.emit(Event{Kind: EventDelete})
	}
}

func (s *Session) enqueue(key string, raw json.RawMessage) {
	if s.shutdown.Load() {
		s.logger.Warn("message dropped during shutdown", "kind", key)
		return
	}
	if !s.sequencer.Add(Item{Kind: key, Payload: raw}) {
		s.logger.Warn("message dropped, sequencer stopped", "kind", key)
	}
}

// Send publishes a fire-and-forget message with a single semantic key.
// When the session is not connected the message is dropped with a warning;
// publish failures are logged.
func (s *Session) Send(key string, value any) {
	if err := s.publish(key, value); err != nil {
		s.logger.Warn("message not sent", "key", key, "error", err)
	}
}

// SendCorrelated publishes a message registered under correlationKey and
// waits for the gateway's result.
//
// A request for a key that is already in flight waits for the earlier one to
// settle first. A zero timeout selects the session's request timeout.
//
// Returns:
//   - string: Reason on success
//   - error: ErrCorrelationTimeout, *RejectionError (matches
//     ErrCorrelationRejected), a transport error, or ctx.Err()
func (s *Session) SendCorrelated(ctx context.Context, correlationKey, key string, value any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = s.requestTimeout
	}
	return s.correlations.Send(ctx, correlationKey, timeout, func() error {
		return s.publish(key, value)
	})
}

// publish wraps value in an envelope and publishes it on our own topic.
func (s *Session) publish(key string, value any) error {
	if !s.IsConnected() {
		return mqtt.ErrNotConnected
	}

	envelope := map[string]any{keyNode: s.node, key: value}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", key, err)
	}

	if err := s.client.Publish(s.topics.NodeServer(s.profileNum), payload, s.qos, false); err != nil {
		return err
	}

	s.events.emit(Event{Kind: EventMessageSent, Message: envelope})
	return nil
}
