package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Relational bookkeeping store.
//
// Postgres holds the operational tables: scheduled-task run history,
// generated reports, performance benchmarks, time-series metrics and
// performance alerts. The investigation graph and evidence chain live in
// the graph store; nothing here is on the investigation hot path.

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image without shipping the .sql file.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool and verifies connectivity.
func Connect(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	logger = logger.Named("store")
	logger.Info("connected to postgres")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded DDL.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: schema init: %w", err)
	}
	s.logger.Info("schema initialized")
	return nil
}

// RecordTaskRun appends one scheduled-task run outcome.
func (s *PostgresStore) RecordTaskRun(ctx context.Context, taskID string, started time.Time, duration time.Duration, runErr error) error {
	sql := `
		INSERT INTO scheduled_task_runs (task_id, started_at, duration_ms, success, error)
		VALUES ($1, $2, $3, $4, $5);
	`
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.pool.Exec(ctx, sql, taskID, started, duration.Milliseconds(), runErr == nil, errText)
	return err
}

// RecordBenchmark stores one timing sample.
func (s *PostgresStore) RecordBenchmark(ctx context.Context, name string, durationMS float64, meta map[string]any) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	sql := `
		INSERT INTO benchmarks (name, duration_ms, meta)
		VALUES ($1, $2, $3);
	`
	_, err = s.pool.Exec(ctx, sql, name, durationMS, payload)
	return err
}

// SaveReport stores one generated report document.
func (s *PostgresStore) SaveReport(ctx context.Context, kind string, payload []byte) error {
	sql := `
		INSERT INTO reports (kind, payload)
		VALUES ($1, $2);
	`
	_, err := s.pool.Exec(ctx, sql, kind, payload)
	return err
}

// LatestReport returns the newest report of a kind, or nil when none
// exists.
func (s *PostgresStore) LatestReport(ctx context.Context, kind string) ([]byte, error) {
	sql := `
		SELECT payload FROM reports
		WHERE kind = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`
	var payload []byte
	err := s.pool.QueryRow(ctx, sql, kind).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// RecordMetric appends one time-series sample.
func (s *PostgresStore) RecordMetric(ctx context.Context, name string, value float64) error {
	sql := `
		INSERT INTO metrics (name, value)
		VALUES ($1, $2);
	`
	_, err := s.pool.Exec(ctx, sql, name, value)
	return err
}

// PruneMetrics removes samples older than the cutoff.
func (s *PostgresStore) PruneMetrics(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metrics WHERE recorded_at < $1;`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RecordPerformanceAlert stores a degradation notice raised by the
// scheduler or the metrics layer.
func (s *PostgresStore) RecordPerformanceAlert(ctx context.Context, source, message string, severity string) error {
	sql := `
		INSERT INTO performance_alerts (source, message, severity)
		VALUES ($1, $2, $3);
	`
	_, err := s.pool.Exec(ctx, sql, source, message, severity)
	return err
}

// Maintain runs the periodic housekeeping statements.
func (s *PostgresStore) Maintain(ctx context.Context) error {
	statements := []string{
		`DELETE FROM scheduled_task_runs WHERE started_at < NOW() - INTERVAL '90 days';`,
		`DELETE FROM performance_alerts WHERE created_at < NOW() - INTERVAL '90 days';`,
		`ANALYZE;`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: maintenance %q: %w", stmt, err)
		}
	}
	return nil
}

// Pool exposes the underlying pool for health checks.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }
