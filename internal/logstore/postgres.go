package logstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS logs (
    id          BIGSERIAL PRIMARY KEY,
    device_id   TEXT NOT NULL,
    data_type   TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    value       TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_logs_device_metric ON logs (device_id, metric_name);
CREATE TABLE IF NOT EXISTS command_log (
    id          TEXT PRIMARY KEY,
    origin_id   TEXT NOT NULL DEFAULT '',
    device_id   TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    value       TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT 'device',
    status      TEXT NOT NULL,
    latency_ms  BIGINT,
    created_at  TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ NOT NULL
);`

const (
	postgresInsertReading = `INSERT INTO logs (device_id, data_type, metric_name, value)
		VALUES ($1, $2, $3, $4)`

	postgresUpsertCommand = `INSERT INTO command_log
		(id, origin_id, device_id, metric_name, value, source, status, latency_ms, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			origin_id = EXCLUDED.origin_id,
			device_id = EXCLUDED.device_id,
			metric_name = EXCLUDED.metric_name,
			value = EXCLUDED.value,
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			latency_ms = EXCLUDED.latency_ms,
			created_at = EXCLUDED.created_at,
			resolved_at = EXCLUDED.resolved_at`
)

// PgExecutor is the subset of *pgxpool.Pool the store uses.
type PgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore writes readings and command outcomes to PostgreSQL.
type PostgresStore struct {
	pool   PgExecutor
	logger Logger
}

// NewPostgresStore wraps a connected pool.
func NewPostgresStore(pool PgExecutor, logger Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: orNoop(logger)}
}

// EnsureSchema creates the logs and command_log tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("logstore: creating postgres schema: %w", err)
	}
	return nil
}

// Record inserts one reading into logs.
func (s *PostgresStore) Record(ctx context.Context, deviceID, dataType, metricName, value string) error {
	return s.execWithRetry(ctx, postgresInsertReading, deviceID, dataType, metricName, value)
}

// RecordOutcome upserts the command_log row for a routed command.
func (s *PostgresStore) RecordOutcome(ctx context.Context, o serial.Outcome) error {
	row, ok := toCommandRow(o)
	if !ok {
		return nil
	}
	return s.execWithRetry(ctx, postgresUpsertCommand,
		row.ID, row.OriginID, row.DeviceID, row.MetricName, row.Value, row.Source, row.Status,
		row.LatencyMS, row.CreatedAt, row.ResolvedAt)
}

// Observer returns an OutcomeObserver that records into command_log.
func (s *PostgresStore) Observer() serial.OutcomeObserver {
	return outcomeRecorder{record: s.RecordOutcome, logger: s.logger, store: "postgres"}
}

func (s *PostgresStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.pool.Exec(ctx, query, args...)
	if err == nil {
		return nil
	}

	s.logger.Warn("postgres write failed, checking connection", "error", err)
	if pingErr := s.pool.Ping(ctx); pingErr != nil {
		return fmt.Errorf("%w: postgres: %w", ErrWriteFailed, pingErr)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: postgres: %w", ErrWriteFailed, err)
	}
	return nil
}
