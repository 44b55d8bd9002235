package serial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine returns an idle engine whose handlers can be driven directly.
func newTestEngine(t *testing.T) (*Engine, *fakeClock, *fakeSender, *outcomeRecorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &outcomeRecorder{}
	e := NewEngine(EngineOptions{Clock: clock, Observers: []OutcomeObserver{rec}})
	sender := &fakeSender{}
	require.NoError(t, e.AttachSender("ele_001", sender))
	return e, clock, sender, rec
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(EngineOptions{})
	assert.Equal(t, DefaultRequestTimeout, e.opts.DefaultTimeout)
	assert.Equal(t, DefaultSweepInterval, e.opts.SweepInterval)
	assert.Equal(t, defaultMailboxSize, cap(e.mailbox))
	assert.False(t, e.Running())
}

func TestEngine_AckBeforeDeadline(t *testing.T) {
	e, clock, sender, rec := newTestEngine(t)
	t0 := clock.Now()

	e.handleRequest(NewRequest("controller_001", "ele_001", "ele", "ON", 500*time.Millisecond, t0, SourceDevice))
	assert.Equal(t, []string{"ele_001,CMO,ele,ON"}, sender.Sent())
	require.Len(t, e.snapshot(), 1)

	ackAt := clock.Advance(200 * time.Millisecond)
	e.handleAck(Ack{DeviceID: "ele_001", MetricName: "ele", ReceivedAt: ackAt})

	assert.Empty(t, e.snapshot())
	acked := rec.WithStatus(StatusAcknowledged)
	require.Len(t, acked, 1)
	assert.Equal(t, 200*time.Millisecond, acked[0].Elapsed)
	assert.Equal(t, "ele_001", acked[0].DeviceID)
	assert.Equal(t, "ele", acked[0].MetricName)

	e.sweep(t0.Add(600 * time.Millisecond))
	assert.Empty(t, rec.WithStatus(StatusTimeout))
}

func TestEngine_TimeoutFiresOnce(t *testing.T) {
	e, clock, _, rec := newTestEngine(t)
	t0 := clock.Now()

	e.handleRequest(NewRequest("controller_001", "ele_001", "ele", "ON", 500*time.Millisecond, t0, SourceDevice))

	e.sweep(t0.Add(600 * time.Millisecond))
	timeouts := rec.WithStatus(StatusTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, "ele_001", timeouts[0].DeviceID)
	assert.Equal(t, "ele", timeouts[0].MetricName)
	assert.Equal(t, 600*time.Millisecond, timeouts[0].Elapsed)
	assert.Empty(t, e.snapshot())

	e.sweep(t0.Add(1200 * time.Millisecond))
	assert.Len(t, rec.WithStatus(StatusTimeout), 1)

	// A late ACK is a mismatch, not a success.
	e.handleAck(Ack{DeviceID: "ele_001", MetricName: "ele", ReceivedAt: t0.Add(1300 * time.Millisecond)})
	assert.Empty(t, rec.WithStatus(StatusAcknowledged))
	assert.Len(t, rec.WithStatus(StatusUnexpectedAck), 1)
}

func TestEngine_SweepBoundary(t *testing.T) {
	e, clock, _, rec := newTestEngine(t)
	t0 := clock.Now()

	e.handleRequest(NewRequest("", "ele_001", "ele", "ON", time.Second, t0, SourceDevice))

	e.sweep(t0.Add(time.Second))
	assert.Len(t, e.snapshot(), 1, "age equal to timeout has not expired")
	assert.Empty(t, rec.WithStatus(StatusTimeout))

	e.sweep(t0.Add(time.Second + time.Nanosecond))
	assert.Empty(t, e.snapshot())
	assert.Len(t, rec.WithStatus(StatusTimeout), 1)
}

func TestEngine_SendFailureNeverPending(t *testing.T) {
	e, clock, sender, rec := newTestEngine(t)
	sender.err = errBoom

	e.handleRequest(NewRequest("", "ele_001", "ele", "ON", time.Second, clock.Now(), SourceDevice))

	assert.Empty(t, e.snapshot())
	failed := rec.WithStatus(StatusSendFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, errBoom)

	e.sweep(clock.Advance(time.Minute))
	assert.Empty(t, rec.WithStatus(StatusTimeout))
}

func TestEngine_UnknownDevice(t *testing.T) {
	e, clock, _, rec := newTestEngine(t)

	e.handleRequest(NewRequest("", "ent_001", "ent", "OFF", time.Second, clock.Now(), SourceDevice))

	assert.Empty(t, e.snapshot())
	failed := rec.WithStatus(StatusSendFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrUnknownDevice)
}

func TestEngine_OneEntryPerKey(t *testing.T) {
	e, clock, sender, rec := newTestEngine(t)
	t0 := clock.Now()

	first := NewRequest("", "ele_001", "ele", "ON", time.Second, t0, SourceDevice)
	second := NewRequest("", "ele_001", "ele", "OFF", time.Second, t0.Add(100*time.Millisecond), SourceDevice)
	other := NewRequest("", "ele_001", "ele_dim", "50", time.Second, t0, SourceDevice)

	e.handleRequest(first)
	e.handleRequest(second)
	e.handleRequest(other)

	assert.Len(t, sender.Sent(), 3)
	pending := e.snapshot()
	require.Len(t, pending, 2)

	byMetric := map[string]PendingRequest{}
	for _, p := range pending {
		byMetric[p.MetricName] = p
	}
	assert.Equal(t, second.ID, byMetric["ele"].ID)
	assert.Equal(t, "OFF", byMetric["ele"].Value)

	superseded := rec.WithStatus(StatusSuperseded)
	require.Len(t, superseded, 1)
	assert.Equal(t, first.ID, superseded[0].Request.ID)

	// The replaced entry never times out on its own.
	e.sweep(t0.Add(1100 * time.Millisecond))
	timeouts := rec.WithStatus(StatusTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, other.ID, timeouts[0].Request.ID)
}

func TestEngine_UnexpectedAckLeavesStateAlone(t *testing.T) {
	e, clock, _, rec := newTestEngine(t)

	e.handleRequest(NewRequest("", "ele_001", "ele", "ON", time.Second, clock.Now(), SourceDevice))
	e.handleAck(Ack{DeviceID: "ele_001", MetricName: "ent"})
	e.handleAck(Ack{DeviceID: "ele_002", MetricName: "ele"})

	assert.Len(t, e.snapshot(), 1)
	assert.Len(t, rec.WithStatus(StatusUnexpectedAck), 2)
}

func TestEngine_RequestDefaults(t *testing.T) {
	e, clock, sender, _ := newTestEngine(t)

	e.handleRequest(Request{TargetDeviceID: "ele_001", MetricName: "ele", Value: "ON"})

	pending := e.snapshot()
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].ID)
	assert.Equal(t, DefaultRequestTimeout, pending[0].Timeout)
	assert.Equal(t, clock.Now(), pending[0].CreatedAt)
	assert.Equal(t, clock.Now().Add(DefaultRequestTimeout), pending[0].Deadline())
	assert.Equal(t, []string{"ele_001,CMO,ele,ON"}, sender.Sent())
}

func TestEngine_ObserverPanicRecovered(t *testing.T) {
	clock := newFakeClock()
	rec := &outcomeRecorder{}
	e := NewEngine(EngineOptions{
		Clock: clock,
		Observers: []OutcomeObserver{
			ObserverFunc(func(Outcome) { panic("observer bug") }),
			rec,
		},
	})

	assert.NotPanics(t, func() { e.handleAck(Ack{DeviceID: "x", MetricName: "y"}) })
	assert.Len(t, rec.All(), 1)
}

func TestEngine_SetupAfterStart(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.ErrorIs(t, e.AttachSender("ent_001", &fakeSender{}), ErrEngineStarted)
	assert.ErrorIs(t, e.AddObserver(&outcomeRecorder{}), ErrEngineStarted)
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineStarted)
}

func TestEngine_StoppedRejects(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.Submit(ctx, Request{}), ErrEngineStopped, "not started")

	require.NoError(t, e.Start(ctx))
	e.Stop()

	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Submit(ctx, Request{}), ErrEngineStopped)
	assert.ErrorIs(t, e.Ack(ctx, Ack{}), ErrEngineStopped)
	_, err := e.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrEngineStopped)

	e.Stop() // idempotent
}

func TestEngine_RunLoop(t *testing.T) {
	rec := &outcomeRecorder{}
	e := NewEngine(EngineOptions{SweepInterval: 10 * time.Millisecond, Observers: []OutcomeObserver{rec}})
	sender := &fakeSender{}
	require.NoError(t, e.AttachSender("ele_001", sender))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	acked := NewRequest("", "ele_001", "ele", "ON", time.Minute, time.Now(), SourceDevice)
	expiring := NewRequest("", "ele_001", "ele_fan", "ON", 30*time.Millisecond, time.Now(), SourceDevice)
	require.NoError(t, e.Submit(ctx, acked))
	require.NoError(t, e.Submit(ctx, expiring))

	pending, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, e.Ack(ctx, Ack{DeviceID: "ele_001", MetricName: "ele", ReceivedAt: time.Now()}))

	require.Eventually(t, func() bool {
		return len(rec.WithStatus(StatusTimeout)) == 1 && len(rec.WithStatus(StatusAcknowledged)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	pending, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_ContextCancelStops(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))

	cancel()
	require.Eventually(t, func() bool { return !e.Running() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.Submit(context.Background(), Request{}), ErrEngineStopped)
	e.Stop()
}

// TestEngine_EnqueueAfterDoneRejected covers a Stop that lands between the
// state check and the mailbox send: a free mailbox slot must not win.
func TestEngine_EnqueueAfterDoneRejected(t *testing.T) {
	e, clock, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.state.Store(engineRunning)
	e.done.Close()

	for range 50 {
		req := NewRequest("", "ele_001", "ele", "ON", time.Second, clock.Now(), SourceManual)
		assert.ErrorIs(t, e.Submit(ctx, req), ErrEngineStopped)
	}
	assert.ErrorIs(t, e.Ack(ctx, Ack{DeviceID: "ele_001", MetricName: "ele"}), ErrEngineStopped)
	assert.Zero(t, len(e.mailbox))
}

func TestEngine_ShutdownDrainsQueuedRequests(t *testing.T) {
	e, clock, sender, rec := newTestEngine(t)
	ctx := context.Background()

	// Accepting without a run goroutine leaves the requests queued.
	e.state.Store(engineRunning)
	require.NoError(t, e.Submit(ctx, NewRequest("", "ele_001", "ele", "ON", time.Second, clock.Now(), SourceManual)))
	require.NoError(t, e.Submit(ctx, NewRequest("", "ele_001", "ele_fan", "ON", time.Second, clock.Now(), SourceManual)))
	require.Equal(t, 2, len(e.mailbox))

	e.shutdown()

	assert.Zero(t, len(e.mailbox))
	assert.Empty(t, sender.Sent())
	assert.Empty(t, rec.All())
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Submit(ctx, Request{}), ErrEngineStopped)
}
