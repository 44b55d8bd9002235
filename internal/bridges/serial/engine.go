package serial

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Engine defaults.
const (
	// DefaultRequestTimeout is how long a routed command waits for its ACK.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultSweepInterval is how often expired requests are swept.
	DefaultSweepInterval = time.Second

	// defaultMailboxSize is the engine inbound buffer size.
	defaultMailboxSize = 64
)

// Request sources.
const (
	SourceDevice = "device"
	SourceManual = "manual"
)

// OutcomeStatus is the terminal state of a routed command, or a diagnostic.
type OutcomeStatus string

// Outcome statuses.
const (
	StatusAcknowledged  OutcomeStatus = "acknowledged"
	StatusTimeout       OutcomeStatus = "timeout"
	StatusSendFailed    OutcomeStatus = "send_failed"
	StatusSuperseded    OutcomeStatus = "superseded"
	StatusUnexpectedAck OutcomeStatus = "unexpected_ack"
)

// Request is a routed command addressed to one device.
type Request struct {
	ID             string
	OriginDeviceID string
	TargetDeviceID string
	MetricName     string
	Value          string
	CommandText    string
	CreatedAt      time.Time
	Timeout        time.Duration
	Source         string
}

// NewRequest builds a routed command request with a fresh ID and encoded text.
func NewRequest(origin, target, metric, value string, timeout time.Duration, now time.Time, source string) Request {
	return Request{
		ID:             uuid.NewString(),
		OriginDeviceID: origin,
		TargetDeviceID: target,
		MetricName:     metric,
		Value:          value,
		CommandText:    Encode(target, metric, value),
		CreatedAt:      now,
		Timeout:        timeout,
		Source:         source,
	}
}

// Ack reports that a device acknowledged a metric.
type Ack struct {
	DeviceID   string
	MetricName string
	ReceivedAt time.Time
}

// PendingRequest is a routed command awaiting acknowledgment.
type PendingRequest struct {
	Request
}

// Deadline returns the instant after which the request expires.
func (p PendingRequest) Deadline() time.Time {
	return p.CreatedAt.Add(p.Timeout)
}

// Outcome describes what happened to a routed command.
//
// For StatusUnexpectedAck only DeviceID and MetricName are set.
type Outcome struct {
	Status     OutcomeStatus
	Request    Request
	DeviceID   string
	MetricName string
	Elapsed    time.Duration
	Err        error
	At         time.Time
}

// OutcomeObserver receives outcomes on the engine goroutine.
// Implementations must not block.
type OutcomeObserver interface {
	OnOutcome(Outcome)
}

// ObserverFunc adapts a function to OutcomeObserver.
type ObserverFunc func(Outcome)

// OnOutcome calls f(o).
func (f ObserverFunc) OnOutcome(o Outcome) { f(o) }

// Sender writes a routed command to a device.
type Sender interface {
	Send(commandText string) error
}

// Submitter is the send-only handle sessions use to reach the engine.
type Submitter interface {
	Submit(ctx context.Context, req Request) error
	Ack(ctx context.Context, ack Ack) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EngineOptions configures an Engine.
type EngineOptions struct {
	// DefaultTimeout applies to requests submitted without one. Default: 10s.
	DefaultTimeout time.Duration

	// SweepInterval is the expiry sweep period. Default: 1s.
	SweepInterval time.Duration

	// MailboxSize is the inbound buffer size. Default: 64.
	MailboxSize int

	// Clock defaults to the system clock.
	Clock Clock

	Logger    Logger
	Metrics   *Metrics
	Observers []OutcomeObserver
}

type pendingKey struct {
	deviceID string
	metric   string
}

type messageKind int

const (
	msgRequest messageKind = iota
	msgAck
	msgSnapshot
)

type message struct {
	kind  messageKind
	req   Request
	ack   Ack
	reply chan []PendingRequest
}

// Engine state values.
const (
	engineIdle int32 = iota
	engineRunning
	engineStopped
)

// Engine correlates routed commands with acknowledgments.
//
// The pending table is owned by the engine goroutine and reached only
// through the mailbox. At most one request is pending per (device, metric);
// a newer request for the same key supersedes the older one.
//
// Thread Safety:
//   - Submit, Ack and Snapshot are safe for concurrent use.
//   - AttachSender and AddObserver must be called before Start.
type Engine struct {
	opts      EngineOptions
	senders   map[string]Sender
	observers []OutcomeObserver
	setupMu   sync.Mutex

	// Owned by the run goroutine.
	pending map[pendingKey]*PendingRequest

	mailbox chan message
	state   atomic.Int32
	stateMu sync.RWMutex // held for reading while enqueueing
	done    *closeOnce
	wg      sync.WaitGroup
}

// NewEngine creates an engine. Call AttachSender for each device, then Start.
func NewEngine(opts EngineOptions) *Engine {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultRequestTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Engine{
		opts:      opts,
		senders:   make(map[string]Sender),
		observers: append([]OutcomeObserver(nil), opts.Observers...),
		pending:   make(map[pendingKey]*PendingRequest),
		mailbox:   make(chan message, opts.MailboxSize),
		done:      newCloseOnce(),
	}
}

// AttachSender registers the send handle for a device.
func (e *Engine) AttachSender(deviceID string, s Sender) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	if e.state.Load() != engineIdle {
		return ErrEngineStarted
	}
	e.senders[deviceID] = s
	return nil
}

// AddObserver registers an outcome observer.
func (e *Engine) AddObserver(obs OutcomeObserver) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	if e.state.Load() != engineIdle {
		return ErrEngineStarted
	}
	e.observers = append(e.observers, obs)
	return nil
}

// Start launches the engine goroutine. It stops when ctx is cancelled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	if !e.state.CompareAndSwap(engineIdle, engineRunning) {
		return ErrEngineStarted
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()

	e.opts.Logger.Info("correlation engine started",
		"devices", len(e.senders),
		"sweep_interval", e.opts.SweepInterval,
		"default_timeout", e.opts.DefaultTimeout,
	)
	return nil
}

// Stop stops the engine and waits for its goroutine to exit.
// Pending requests are dropped without a final sweep.
func (e *Engine) Stop() {
	e.markStopped()
	e.done.Close()
	e.wg.Wait()
}

// markStopped waits for in-flight enqueues, so no message is accepted
// after it returns.
func (e *Engine) markStopped() {
	e.stateMu.Lock()
	e.state.Store(engineStopped)
	e.stateMu.Unlock()
}

// Running reports whether the engine accepts messages.
func (e *Engine) Running() bool {
	return e.state.Load() == engineRunning
}

// Submit hands a routed command to the engine.
func (e *Engine) Submit(ctx context.Context, req Request) error {
	return e.enqueue(ctx, message{kind: msgRequest, req: req})
}

// Ack reports an acknowledgment to the engine.
func (e *Engine) Ack(ctx context.Context, ack Ack) error {
	return e.enqueue(ctx, message{kind: msgAck, ack: ack})
}

// Snapshot returns a copy of the pending table ordered by creation time.
func (e *Engine) Snapshot(ctx context.Context) ([]PendingRequest, error) {
	reply := make(chan []PendingRequest, 1)
	if err := e.enqueue(ctx, message{kind: msgSnapshot, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done.Done():
		return nil, ErrEngineStopped
	}
}

func (e *Engine) enqueue(ctx context.Context, msg message) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if e.state.Load() != engineRunning {
		return ErrEngineStopped
	}
	select {
	case <-e.done.Done():
		return ErrEngineStopped
	default:
	}
	select {
	case e.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done.Done():
		return ErrEngineStopped
	}
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.done.Done():
			e.shutdown()
			return
		case msg := <-e.mailbox:
			e.handle(msg)
		case <-ticker.C:
			e.sweep(e.opts.Clock.Now())
		}
	}
}

func (e *Engine) shutdown() {
	// done first: enqueues blocked on a full mailbox must release stateMu.
	e.done.Close()
	e.markStopped()

	if n := e.drainMailbox(); n > 0 {
		e.opts.Logger.Info("correlation engine stopped, dropping queued commands", "queued", n)
	}
	if n := len(e.pending); n > 0 {
		e.opts.Logger.Info("correlation engine stopped, dropping pending commands", "pending", n)
	} else {
		e.opts.Logger.Info("correlation engine stopped")
	}
	clear(e.pending)
	e.opts.Metrics.pending(0)
}

// drainMailbox discards messages accepted before the engine stopped and
// returns how many were requests.
func (e *Engine) drainMailbox() int {
	n := 0
	for {
		select {
		case msg := <-e.mailbox:
			if msg.kind == msgRequest {
				n++
			}
		default:
			return n
		}
	}
}

func (e *Engine) handle(msg message) {
	switch msg.kind {
	case msgRequest:
		e.handleRequest(msg.req)
	case msgAck:
		e.handleAck(msg.ack)
	case msgSnapshot:
		msg.reply <- e.snapshot()
	}
}

// handleRequest writes a routed command and registers it as pending.
// A request that cannot be written is never registered.
func (e *Engine) handleRequest(req Request) {
	now := e.opts.Clock.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = e.opts.DefaultTimeout
	}
	if req.CommandText == "" {
		req.CommandText = Encode(req.TargetDeviceID, req.MetricName, req.Value)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}

	sender, ok := e.senders[req.TargetDeviceID]
	if !ok {
		e.emit(Outcome{
			Status:     StatusSendFailed,
			Request:    req,
			DeviceID:   req.TargetDeviceID,
			MetricName: req.MetricName,
			Err:        fmt.Errorf("%w: %q", ErrUnknownDevice, req.TargetDeviceID),
			At:         now,
		})
		return
	}

	if err := sender.Send(req.CommandText); err != nil {
		e.emit(Outcome{
			Status:     StatusSendFailed,
			Request:    req,
			DeviceID:   req.TargetDeviceID,
			MetricName: req.MetricName,
			Err:        err,
			At:         now,
		})
		return
	}
	e.opts.Metrics.frameSent(req.TargetDeviceID)

	key := pendingKey{deviceID: req.TargetDeviceID, metric: req.MetricName}
	if old, exists := e.pending[key]; exists {
		e.emit(Outcome{
			Status:     StatusSuperseded,
			Request:    old.Request,
			DeviceID:   key.deviceID,
			MetricName: key.metric,
			Elapsed:    now.Sub(old.CreatedAt),
			At:         now,
		})
	}
	e.pending[key] = &PendingRequest{Request: req}
	e.opts.Metrics.pending(len(e.pending))

	e.opts.Logger.Debug("routed command sent",
		"request_id", req.ID,
		"origin", req.OriginDeviceID,
		"target", req.TargetDeviceID,
		"metric", req.MetricName,
		"value", req.Value,
		"timeout", req.Timeout,
		"source", req.Source,
	)
}

// handleAck clears the matching pending entry.
func (e *Engine) handleAck(ack Ack) {
	now := e.opts.Clock.Now()
	at := ack.ReceivedAt
	if at.IsZero() {
		at = now
	}

	key := pendingKey{deviceID: ack.DeviceID, metric: ack.MetricName}
	entry, ok := e.pending[key]
	if !ok {
		e.emit(Outcome{
			Status:     StatusUnexpectedAck,
			DeviceID:   ack.DeviceID,
			MetricName: ack.MetricName,
			At:         at,
		})
		return
	}

	delete(e.pending, key)
	e.opts.Metrics.pending(len(e.pending))
	e.emit(Outcome{
		Status:     StatusAcknowledged,
		Request:    entry.Request,
		DeviceID:   key.deviceID,
		MetricName: key.metric,
		Elapsed:    at.Sub(entry.CreatedAt),
		At:         at,
	})
}

// sweep expires every entry older than its timeout.
func (e *Engine) sweep(now time.Time) {
	expired := 0
	for key, entry := range e.pending {
		age := now.Sub(entry.CreatedAt)
		if age <= entry.Timeout {
			continue
		}
		delete(e.pending, key)
		expired++
		e.emit(Outcome{
			Status:     StatusTimeout,
			Request:    entry.Request,
			DeviceID:   key.deviceID,
			MetricName: key.metric,
			Elapsed:    age,
			At:         now,
		})
	}
	if expired > 0 {
		e.opts.Metrics.pending(len(e.pending))
	}
}

func (e *Engine) snapshot() []PendingRequest {
	out := make([]PendingRequest, 0, len(e.pending))
	for _, entry := range e.pending {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].TargetDeviceID != out[j].TargetDeviceID {
			return out[i].TargetDeviceID < out[j].TargetDeviceID
		}
		return out[i].MetricName < out[j].MetricName
	})
	return out
}

func (e *Engine) emit(o Outcome) {
	e.opts.Metrics.outcome(o)
	e.logOutcome(o)

	for _, obs := range e.observers {
		e.notify(obs, o)
	}
}

func (e *Engine) notify(obs OutcomeObserver, o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("outcome observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	obs.OnOutcome(o)
}

func (e *Engine) logOutcome(o Outcome) {
	log := e.opts.Logger
	switch o.Status {
	case StatusAcknowledged:
		log.Info("routed command acknowledged",
			"request_id", o.Request.ID,
			"device", o.DeviceID,
			"metric", o.MetricName,
			"latency_ms", o.Elapsed.Milliseconds(),
		)
	case StatusTimeout:
		log.Warn("routed command timed out",
			"request_id", o.Request.ID,
			"device", o.DeviceID,
			"metric", o.MetricName,
			"elapsed_ms", o.Elapsed.Milliseconds(),
		)
	case StatusSuperseded:
		log.Warn("pending command superseded",
			"request_id", o.Request.ID,
			"device", o.DeviceID,
			"metric", o.MetricName,
		)
	case StatusSendFailed:
		log.Error("routed command not sent",
			"request_id", o.Request.ID,
			"device", o.DeviceID,
			"metric", o.MetricName,
			"error", o.Err,
		)
	case StatusUnexpectedAck:
		log.Warn("unexpected acknowledgment",
			"device", o.DeviceID,
			"metric", o.MetricName,
		)
	}
}
