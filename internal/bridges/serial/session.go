package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultSinkTimeout bounds a single sink Record call.
const defaultSinkTimeout = 5 * time.Second

// SessionState is the lifecycle state of a port session.
type SessionState int32

// Session states.
const (
	SessionConnected SessionState = iota
	SessionClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink stores decoded readings.
type Sink interface {
	Record(ctx context.Context, deviceID, dataType, metricName, value string) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// DeviceID is injected as the origin of every frame read from Port.
	DeviceID string

	// Port is the open transport. The session takes ownership of it.
	Port Port

	// Registry resolves local command targets.
	Registry *Registry

	// Engine receives routed requests and acknowledgments.
	Engine Submitter

	// Sink stores readings. Optional.
	Sink Sink

	// DefaultTimeout is the ACK timeout for routed requests. Default: 10s.
	DefaultTimeout time.Duration

	// SinkTimeout bounds each Record call. Default: 5s.
	SinkTimeout time.Duration

	// Clock defaults to the system clock.
	Clock Clock

	Logger  Logger
	Metrics *Metrics
}

// SessionStats holds operational statistics for one session.
type SessionStats struct {
	DeviceID     string
	State        SessionState
	FramesRx     uint64
	FramesTx     uint64
	DecodeErrors uint64
	SinkErrors   uint64
	LastActivity time.Time
}

// Session owns the port of one device.
//
// Run reads lines, decodes them and dispatches each frame: readings go to
// the sink, local commands become routed requests, acknowledgments go to
// the engine. Send may be called concurrently with Run.
type Session struct {
	opts   SessionOptions
	reader *lineReader

	writeMu sync.Mutex
	state   atomic.Int32
	closeMu sync.Once

	framesRx     atomic.Uint64
	framesTx     atomic.Uint64
	decodeErrors atomic.Uint64
	sinkErrors   atomic.Uint64
	lastActivity atomic.Int64
}

// Ensure Session implements Sender.
var _ Sender = (*Session)(nil)

// NewSession creates a connected session over an open port.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("serial: session requires a device id")
	}
	if opts.Port == nil {
		return nil, fmt.Errorf("serial: session %s requires a port", opts.DeviceID)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("serial: session %s requires a registry", opts.DeviceID)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("serial: session %s requires an engine", opts.DeviceID)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultRequestTimeout
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	s := &Session{
		opts:   opts,
		reader: newLineReader(opts.Port),
	}
	s.state.Store(int32(SessionConnected))
	s.lastActivity.Store(opts.Clock.Now().UnixNano())
	opts.Metrics.sessionState(opts.DeviceID, SessionConnected)
	return s, nil
}

// DeviceID returns the device this session serves.
func (s *Session) DeviceID() string {
	return s.opts.DeviceID
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		DeviceID:     s.opts.DeviceID,
		State:        s.State(),
		FramesRx:     s.framesRx.Load(),
		FramesTx:     s.framesTx.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		SinkErrors:   s.sinkErrors.Load(),
		LastActivity: time.Unix(0, s.lastActivity.Load()),
	}
}

// Run reads and dispatches frames until ctx is cancelled, the session is
// closed, or the port fails.
//
// Returns nil on cancellation or Close, and an ErrTransportRead error when
// the port fails. The session is Closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	defer s.Close() //nolint:errcheck // close error already logged

	log := s.opts.Logger
	log.Info("port session started", "device", s.opts.DeviceID)

	for {
		if ctx.Err() != nil || s.State() == SessionClosed {
			return nil
		}

		line, ok, err := s.reader.next()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.decodeErrors.Add(1)
				s.opts.Metrics.decodeError(s.opts.DeviceID)
				log.Warn("discarding oversized line", "device", s.opts.DeviceID, "limit", maxLineLength)
				continue
			}
			if s.State() == SessionClosed || ctx.Err() != nil {
				return nil
			}
			log.Error("port read failed, closing session", "device", s.opts.DeviceID, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrTransportRead, s.opts.DeviceID, err)
		}
		if !ok {
			continue
		}

		s.lastActivity.Store(s.opts.Clock.Now().UnixNano())
		frame, err := Decode(line, s.opts.DeviceID)
		if err != nil {
			s.decodeErrors.Add(1)
			s.opts.Metrics.decodeError(s.opts.DeviceID)
			log.Warn("dropping undecodable line", "device", s.opts.DeviceID, "line", line, "error", err)
			continue
		}
		s.framesRx.Add(1)
		s.opts.Metrics.frameReceived(s.opts.DeviceID, frame.Kind)
		s.handleFrame(ctx, frame)
	}
}

// handleFrame dispatches one decoded frame.
func (s *Session) handleFrame(ctx context.Context, frame Frame) {
	log := s.opts.Logger

	switch frame.Kind {
	case KindReading:
		s.record(ctx, frame)

	case KindLocalCommand:
		target, err := s.opts.Registry.Resolve(frame.MetricName, s.opts.DeviceID)
		if err != nil {
			s.opts.Metrics.routingFailure(s.opts.DeviceID)
			log.Warn("local command not routed",
				"device", s.opts.DeviceID,
				"metric", frame.MetricName,
				"value", frame.Value,
				"error", err,
			)
			return
		}
		req := NewRequest(s.opts.DeviceID, target, frame.MetricName, frame.Value,
			s.opts.DefaultTimeout, s.opts.Clock.Now(), SourceDevice)
		if err := s.opts.Engine.Submit(ctx, req); err != nil {
			log.Warn("routed command not submitted",
				"device", s.opts.DeviceID,
				"target", target,
				"metric", frame.MetricName,
				"error", err,
			)
		}

	case KindAck:
		ack := Ack{DeviceID: s.opts.DeviceID, MetricName: frame.MetricName, ReceivedAt: s.opts.Clock.Now()}
		if err := s.opts.Engine.Ack(ctx, ack); err != nil {
			log.Warn("acknowledgment not delivered",
				"device", s.opts.DeviceID,
				"metric", frame.MetricName,
				"error", err,
			)
		}

	case KindRoutedCommand:
		s.opts.Metrics.unexpectedFrame(s.opts.DeviceID)
		log.Warn("dropping inbound routed command",
			"device", s.opts.DeviceID,
			"metric", frame.MetricName,
			"value", frame.Value,
		)
	}
}

func (s *Session) record(ctx context.Context, frame Frame) {
	if s.opts.Sink == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(ctx, s.opts.SinkTimeout)
	defer cancel()

	err := s.opts.Sink.Record(recordCtx, s.opts.DeviceID, string(frame.Kind), frame.MetricName, frame.Value)
	if err != nil {
		s.sinkErrors.Add(1)
		s.opts.Metrics.sinkError(s.opts.DeviceID)
		s.opts.Logger.Error("recording reading failed",
			"device", s.opts.DeviceID,
			"metric", frame.MetricName,
			"error", err,
		)
	}
}

// Send writes commandText followed by a newline. Writes are serialised.
func (s *Session) Send(commandText string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == SessionClosed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.opts.DeviceID)
	}
	if _, err := s.opts.Port.Write([]byte(commandText + "\n")); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportWrite, s.opts.DeviceID, err)
	}
	s.framesTx.Add(1)
	s.lastActivity.Store(s.opts.Clock.Now().UnixNano())
	return nil
}

// Close transitions the session to Closed and closes its port.
// It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.state.Store(int32(SessionClosed))
		s.opts.Metrics.sessionState(s.opts.DeviceID, SessionClosed)

		s.writeMu.Lock()
		err = s.opts.Port.Close()
		s.writeMu.Unlock()

		if err != nil {
			s.opts.Logger.Warn("closing port failed", "device", s.opts.DeviceID, "error", err)
		} else {
			s.opts.Logger.Info("port session closed", "device", s.opts.DeviceID)
		}
	})
	return err
}
