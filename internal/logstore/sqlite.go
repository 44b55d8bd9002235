package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/database"
)

const (
	sqliteInsertReading = `INSERT INTO logs (device_id, data_type, metric_name, value, recorded_at)
		VALUES (?, ?, ?, ?, ?)`

	sqliteUpsertCommand = `INSERT INTO command_log
		(id, origin_id, device_id, metric_name, value, source, status, latency_ms, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			origin_id = excluded.origin_id,
			device_id = excluded.device_id,
			metric_name = excluded.metric_name,
			value = excluded.value,
			source = excluded.source,
			status = excluded.status,
			latency_ms = excluded.latency_ms,
			created_at = excluded.created_at,
			resolved_at = excluded.resolved_at`
)

// SQLiteStore writes readings and command outcomes to the local database.
// The schema comes from the embedded migrations.
type SQLiteStore struct {
	db     *database.DB
	logger Logger
	now    func() time.Time
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB, logger Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: orNoop(logger), now: time.Now}
}

// Record inserts one reading into logs.
func (s *SQLiteStore) Record(ctx context.Context, deviceID, dataType, metricName, value string) error {
	recordedAt := s.now().UTC().Format(time.RFC3339Nano)
	return s.execWithRetry(ctx, sqliteInsertReading, deviceID, dataType, metricName, value, recordedAt)
}

// RecordOutcome upserts the command_log row for a routed command.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o serial.Outcome) error {
	row, ok := toCommandRow(o)
	if !ok {
		return nil
	}
	var latency any
	if row.LatencyMS != nil {
		latency = *row.LatencyMS
	}
	return s.execWithRetry(ctx, sqliteUpsertCommand,
		row.ID, row.OriginID, row.DeviceID, row.MetricName, row.Value, row.Source, row.Status,
		latency, row.CreatedAt.Format(time.RFC3339Nano), row.ResolvedAt.Format(time.RFC3339Nano))
}

// Observer returns an OutcomeObserver that records into command_log.
func (s *SQLiteStore) Observer() serial.OutcomeObserver {
	return outcomeRecorder{record: s.RecordOutcome, logger: s.logger, store: "sqlite"}
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	if err == nil {
		return nil
	}

	s.logger.Warn("sqlite write failed, checking connection", "error", err)
	if hcErr := s.db.HealthCheck(ctx); hcErr != nil {
		return fmt.Errorf("%w: sqlite: %w", ErrWriteFailed, hcErr)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: sqlite: %w", ErrWriteFailed, err)
	}
	return nil
}
