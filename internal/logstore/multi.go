package logstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

// NamedSink pairs a sink with the name used in logs and errors.
type NamedSink struct {
	Name string
	Sink serial.Sink
}

// MultiSink writes each reading to every store. One store failing does not
// stop the others.
type MultiSink struct {
	sinks  []NamedSink
	logger Logger
}

// NewMultiSink fans out to sinks in order.
func NewMultiSink(logger Logger, sinks ...NamedSink) (*MultiSink, error) {
	if len(sinks) == 0 {
		return nil, ErrNoStores
	}
	return &MultiSink{sinks: sinks, logger: orNoop(logger)}, nil
}

// Record writes to every store and joins the failures.
func (m *MultiSink) Record(ctx context.Context, deviceID, dataType, metricName, value string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Record(ctx, deviceID, dataType, metricName, value); err != nil {
			m.logger.Warn("reading not stored",
				"store", s.Name,
				"device_id", deviceID,
				"metric", metricName,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the configured stores.
func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}
