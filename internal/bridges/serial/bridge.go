package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// manualCommandTimeout bounds handing an MQTT command to the engine.
const manualCommandTimeout = 5 * time.Second

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID names the bridge in health messages. Default: "serial".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Devices in configuration order.
	Devices []DeviceConfig

	// Port holds line settings for every device.
	Port PortConfig

	// AllowSelfTarget lets a local command be routed back to its origin.
	AllowSelfTarget bool

	// DefaultTimeout is the acknowledgment timeout. Default: 10s.
	DefaultTimeout time.Duration

	// SweepInterval is the expiry sweep period. Default: 1s.
	SweepInterval time.Duration

	// MailboxSize is the engine inbound buffer size.
	MailboxSize int

	// SinkTimeout bounds each reading write.
	SinkTimeout time.Duration

	// Sink stores readings. Optional.
	Sink Sink

	// Observers receive command outcomes. Each is wrapped in an AsyncObserver.
	Observers []OutcomeObserver

	// MQTTClient enables manual commands and health reporting. Optional.
	MQTTClient MQTTClient

	// HealthInterval is the health publish period. Default: 30s.
	HealthInterval time.Duration

	// Open opens device ports. Default: OpenPort.
	Open OpenFunc

	Clock   Clock
	Logger  Logger
	Metrics *Metrics
}

// Bridge owns one Session per reachable device plus the correlation engine.
//
// Devices whose port cannot be opened are logged and skipped; the bridge
// runs as long as at least one port opened.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts      BridgeOptions
	registry  *Registry
	engine    *Engine
	sessions  []*Session
	byID      map[string]*Session
	observers []*AsyncObserver
	health    *HealthReporter

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Ensure Bridge implements HealthSource.
var _ HealthSource = (*Bridge)(nil)

// NewBridge opens every configured port and wires sessions to a new engine.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		opts.BridgeID = ProtocolName
	}
	if opts.Open == nil {
		opts.Open = OpenPort
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultRequestTimeout
	}

	registry, err := NewRegistry(opts.Devices, opts.AllowSelfTarget)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		opts:     opts,
		registry: registry,
		byID:     make(map[string]*Session, registry.Len()),
	}

	b.engine = NewEngine(EngineOptions{
		DefaultTimeout: opts.DefaultTimeout,
		SweepInterval:  opts.SweepInterval,
		MailboxSize:    opts.MailboxSize,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})

	for _, id := range registry.DeviceIDs() {
		addr, _ := registry.Address(id)
		port, err := opts.Open(addr, opts.Port)
		if err != nil {
			opts.Metrics.sessionState(id, SessionClosed)
			opts.Logger.Error("failed to open port, device unavailable",
				"device", id,
				"address", addr,
				"error", err,
			)
			continue
		}

		session, err := NewSession(SessionOptions{
			DeviceID:       id,
			Port:           port,
			Registry:       registry,
			Engine:         b.engine,
			Sink:           opts.Sink,
			DefaultTimeout: opts.DefaultTimeout,
			SinkTimeout:    opts.SinkTimeout,
			Clock:          opts.Clock,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
		})
		if err != nil {
			port.Close()
			b.closeSessions()
			return nil, err
		}
		if err := b.engine.AttachSender(id, session); err != nil {
			session.Close()
			b.closeSessions()
			return nil, err
		}
		b.sessions = append(b.sessions, session)
		b.byID[id] = session

		opts.Logger.Info("port opened", "device", id, "address", addr)
	}

	if len(b.sessions) == 0 {
		return nil, ErrNoSessions
	}

	for i, obs := range opts.Observers {
		async := NewAsyncObserver(fmt.Sprintf("observer-%d", i), obs, 0, opts.Logger)
		if err := b.engine.AddObserver(async); err != nil {
			async.Close()
			b.closeObservers()
			b.closeSessions()
			return nil, err
		}
		b.observers = append(b.observers, async)
	}

	if opts.MQTTClient != nil {
		b.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  opts.BridgeID,
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTTClient,
			Source:    b,
			Logger:    opts.Logger,
		})
	}

	return b, nil
}

// Start launches the engine and one goroutine per session, subscribes to
// manual commands and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.opts.Logger.Warn("failed to publish starting status", "error", err)
		}
	}

	if err := b.engine.Start(b.ctx); err != nil {
		b.cancel()
		return fmt.Errorf("start engine: %w", err)
	}

	for _, s := range b.sessions {
		b.wg.Add(1)
		go func(s *Session) {
			defer b.wg.Done()
			if err := s.Run(b.ctx); err != nil {
				b.opts.Logger.Error("port session ended", "device", s.DeviceID(), "error", err)
			}
		}(s)
	}

	if b.opts.MQTTClient != nil {
		topic := CommandSubscribeTopic()
		if err := b.opts.MQTTClient.Subscribe(topic, qosAtLeastOnce, b.handleCommandMessage); err != nil {
			b.opts.Logger.Warn("manual commands unavailable", "topic", topic, "error", err)
		} else {
			b.opts.Logger.Info("subscribed to commands", "topic", topic)
		}
	}

	if b.health != nil {
		b.health.Start(b.ctx)
	}

	b.opts.Logger.Info("serial bridge started",
		"bridge_id", b.opts.BridgeID,
		"devices", b.registry.Len(),
		"sessions", len(b.sessions),
	)
	return nil
}

// Stop cancels every session, stops the engine and flushes observers.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.health != nil {
			b.health.Stop()
		}
		b.wg.Wait()
		b.closeSessions()
		b.engine.Stop()
		b.closeObservers()

		b.opts.Logger.Info("serial bridge stopped")
	})
}

// Registry returns the device registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Engine returns the correlation engine.
func (b *Bridge) Engine() *Engine {
	return b.engine
}

// Session returns the session of a device, if its port opened.
func (b *Bridge) Session(deviceID string) (*Session, bool) {
	s, ok := b.byID[deviceID]
	return s, ok
}

// SessionStats returns statistics for every open session in configuration order.
func (b *Bridge) SessionStats() []SessionStats {
	out := make([]SessionStats, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s.Stats())
	}
	return out
}

// Pending returns the commands awaiting acknowledgment, oldest first.
func (b *Bridge) Pending(ctx context.Context) ([]PendingRequest, error) {
	return b.engine.Snapshot(ctx)
}

// PendingCount returns the number of commands awaiting acknowledgment.
func (b *Bridge) PendingCount(ctx context.Context) (int, error) {
	pending, err := b.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// SubmitManual routes a command to deviceID on behalf of an operator.
//
// Returns the submitted request, ErrUnknownDevice for an unconfigured
// device, or ErrInvalidField for values that would corrupt the wire format.
func (b *Bridge) SubmitManual(ctx context.Context, deviceID string, cmd CommandMessage) (Request, error) {
	if !b.registry.Has(deviceID) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if err := cmd.Validate(); err != nil {
		return Request{}, err
	}

	timeout := cmd.Timeout()
	if timeout == 0 {
		timeout = b.opts.DefaultTimeout
	}
	req := NewRequest("", deviceID, cmd.Metric, cmd.Value, timeout, b.opts.Clock.Now(), SourceManual)
	if cmd.ID != "" {
		req.ID = cmd.ID
	}

	if err := b.engine.Submit(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// handleCommandMessage processes a manual command from MQTT.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	deviceID, ok := DeviceFromCommandTopic(topic)
	if !ok {
		b.opts.Logger.Warn("ignoring command on unexpected topic", "topic", topic)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.opts.Logger.Warn("failed to parse command", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, manualCommandTimeout)
	defer cancel()

	req, err := b.SubmitManual(ctx, deviceID, cmd)
	if err != nil {
		level := b.opts.Logger.Warn
		if errors.Is(err, ErrEngineStopped) {
			level = b.opts.Logger.Info
		}
		level("manual command rejected", "device", deviceID, "metric", cmd.Metric, "error", err)
		return
	}

	b.opts.Logger.Info("manual command submitted",
		"request_id", req.ID,
		"device", deviceID,
		"metric", req.MetricName,
		"value", req.Value,
	)
}

func (b *Bridge) closeSessions() {
	for _, s := range b.sessions {
		s.Close() //nolint:errcheck // logged by Close
	}
}

func (b *Bridge) closeObservers() {
	for _, obs := range b.observers {
		obs.Close()
	}
}
