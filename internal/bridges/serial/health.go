package serial

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// defaultHealthInterval is how often health is published.
	defaultHealthInterval = 30 * time.Second

	// healthQueryTimeout bounds the pending-table snapshot per report.
	healthQueryTimeout = 2 * time.Second
)

// HealthSource supplies the data a health report needs.
// *Bridge implements it.
type HealthSource interface {
	SessionStats() []SessionStats
	PendingCount(ctx context.Context) (int, error)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher MQTTClient

	// Source provides session and engine state.
	Source HealthSource

	Logger Logger
}

// HealthReporter publishes retained health status at regular intervals.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthMessage{Status: HealthStopping, Reason: "bridge stopping"})
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthMessage{Status: HealthStarting, Reason: "bridge starting"})
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow(ctx context.Context) error {
	return h.publish(h.buildMessage(ctx))
}

// LWTPayload returns the Last Will and Testament payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.cfg.BridgeID))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(ctx); err != nil {
		h.cfg.Logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(ctx); err != nil {
				h.cfg.Logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// buildMessage evaluates the current bridge status.
func (h *HealthReporter) buildMessage(ctx context.Context) HealthMessage {
	msg := HealthMessage{Status: HealthHealthy}
	if h.cfg.Source == nil {
		return msg
	}

	stats := h.cfg.Source.SessionStats()
	connected := 0
	for _, s := range stats {
		msg.Sessions = append(msg.Sessions, NewSessionHealth(s))
		if s.State == SessionConnected {
			connected++
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, healthQueryTimeout)
	defer cancel()
	pending, err := h.cfg.Source.PendingCount(queryCtx)
	if err != nil {
		msg.Status = HealthDegraded
		msg.Reason = fmt.Sprintf("correlation engine unavailable: %v", err)
	}
	msg.PendingCommands = pending

	switch {
	case connected == 0:
		msg.Status = HealthUnhealthy
		msg.Reason = "no port sessions connected"
	case connected < len(stats):
		msg.Status = HealthDegraded
		msg.Reason = fmt.Sprintf("%d of %d port sessions closed", len(stats)-connected, len(stats))
	case h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected():
		msg.Status = HealthDegraded
		msg.Reason = "MQTT disconnected"
	}
	return msg
}

// publish fills the common fields and sends msg retained.
func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	msg.Bridge = h.cfg.BridgeID
	msg.Version = h.cfg.Version
	msg.Timestamp = time.Now().UTC()
	msg.UptimeSeconds = int64(time.Since(h.startTime).Seconds())

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal health message: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, qosAtLeastOnce, true)
}
