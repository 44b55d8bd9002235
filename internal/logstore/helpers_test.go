package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

var testEpoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func ackOutcome(id string, elapsed time.Duration) serial.Outcome {
	return serial.Outcome{
		Status: serial.StatusAcknowledged,
		Request: serial.Request{
			ID:             id,
			OriginDeviceID: "controller_001",
			TargetDeviceID: "ele_001",
			MetricName:     "ele_001",
			Value:          "on",
			CreatedAt:      testEpoch,
			Source:         serial.SourceDevice,
		},
		DeviceID:   "ele_001",
		MetricName: "ele_001",
		Elapsed:    elapsed,
		At:         testEpoch.Add(elapsed),
	}
}

type recordedWarn struct {
	msg  string
	args []any
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []recordedWarn
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, recordedWarn{msg: msg, args: args})
}

func (l *recordingLogger) Error(msg string, args ...any) { l.Warn(msg, args...) }

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

type reading struct {
	deviceID, dataType, metric, value string
}

type stubSink struct {
	mu       sync.Mutex
	readings []reading
	err      error
}

func (s *stubSink) Record(_ context.Context, deviceID, dataType, metric, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, reading{deviceID, dataType, metric, value})
	return s.err
}
