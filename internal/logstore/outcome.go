package logstore

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

// outcomeWriteTimeout bounds one command_log write from an observer.
const outcomeWriteTimeout = 5 * time.Second

// commandRow is one command_log row.
type commandRow struct {
	ID         string
	OriginID   string
	DeviceID   string
	MetricName string
	Value      string
	Source     string
	Status     string
	LatencyMS  *int64
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// toCommandRow maps an outcome to a row. Unexpected ACKs have no command
// behind them and are not audited.
func toCommandRow(o serial.Outcome) (commandRow, bool) {
	if o.Status == serial.StatusUnexpectedAck || o.Request.ID == "" {
		return commandRow{}, false
	}
	row := commandRow{
		ID:         o.Request.ID,
		OriginID:   o.Request.OriginDeviceID,
		DeviceID:   o.DeviceID,
		MetricName: o.MetricName,
		Value:      o.Request.Value,
		Source:     o.Request.Source,
		Status:     string(o.Status),
		CreatedAt:  o.Request.CreatedAt.UTC(),
		ResolvedAt: o.At.UTC(),
	}
	if row.Source == "" {
		row.Source = serial.SourceDevice
	}
	if o.Status == serial.StatusAcknowledged {
		ms := o.Elapsed.Milliseconds()
		row.LatencyMS = &ms
	}
	return row, true
}

// outcomeRecorder adapts a RecordOutcome method to serial.OutcomeObserver.
type outcomeRecorder struct {
	record func(ctx context.Context, o serial.Outcome) error
	logger Logger
	store  string
}

func (r outcomeRecorder) OnOutcome(o serial.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), outcomeWriteTimeout)
	defer cancel()
	if err := r.record(ctx, o); err != nil {
		r.logger.Warn("command outcome not recorded",
			"store", r.store,
			"device_id", o.DeviceID,
			"status", string(o.Status),
			"error", err,
		)
	}
}
