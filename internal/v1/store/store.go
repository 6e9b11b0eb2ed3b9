// Package store persists room documents, adventure logs, and battle maps
// in Postgres. Room state lives in a single JSONB document per room so a
// cold read returns the whole authoritative document in one query; logs
// and maps are relational because they are pruned and filtered by column.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
)

// Sentinel errors callers match with errors.Is to pick status codes.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrMapNotFound  = errors.New("map not found")
)

// Bounded timeouts for every store call. Reads are short; writes get more
// headroom because log inserts carry a retention delete.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// Store wraps a pgx connection pool with tracing and latency metrics.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, span := otel.Tracer("store").Start(ctx, "db.ping")
	defer span.End()
	if err := pool.Ping(pingCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping database")
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info(ctx, "✅ Connected to document store")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports store reachability, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// observe records operation latency under tabletop_store_operation_seconds.
// Use as: defer observe("rooms", "get")()
func observe(collection, operation string) func() {
	start := time.Now()
	return func() {
		metrics.StoreOperationDuration.WithLabelValues(collection, operation).Observe(time.Since(start).Seconds())
	}
}

// queryRow instruments a single-row query with a trace span.
func (s *Store) queryRow(ctx context.Context, query string, args ...any) pgx.Row {
	ctx, span := otel.Tracer("store").Start(ctx, "db.query.row")
	defer span.End()
	return s.pool.QueryRow(ctx, query, args...)
}

// query instruments a multi-row query with a trace span.
func (s *Store) query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	ctx, span := otel.Tracer("store").Start(ctx, "db.query")
	defer span.End()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
	}
	return rows, err
}

// exec instruments a statement execution with a trace span.
func (s *Store) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := otel.Tracer("store").Start(ctx, "db.exec")
	defer span.End()
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
	}
	return tag, err
}

// begin instruments transaction start with a trace span.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := otel.Tracer("store").Start(ctx, "db.transaction.begin")
	defer span.End()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to begin transaction")
	}
	return tx, err
}

// migration is one schema change. Version strings are recorded in
// schema_migrations so each runs exactly once.
type migration struct {
	version string
	up      string
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS adventure_logs (
	room_id     TEXT NOT NULL,
	log_id      BIGINT NOT NULL,
	message     TEXT NOT NULL,
	type        TEXT NOT NULL,
	player_name TEXT NOT NULL DEFAULT '',
	prompt_id   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, log_id)
);
CREATE INDEX IF NOT EXISTS idx_adventure_logs_prompt ON adventure_logs(room_id, prompt_id) WHERE prompt_id <> '';

CREATE TABLE IF NOT EXISTS active_maps (
	room_id           TEXT NOT NULL,
	filename          TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	file_path         TEXT NOT NULL DEFAULT '',
	grid_config       JSONB,
	uploaded_by       TEXT NOT NULL DEFAULT '',
	active            BOOLEAN NOT NULL DEFAULT false,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, filename)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_active_maps_single_active ON active_maps(room_id) WHERE active;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// migrations holds ordered deltas applied on top of the base schema.
var migrations = []migration{
	{
		version: "gameroom: add map image positioning config",
		up:      `ALTER TABLE active_maps ADD COLUMN IF NOT EXISTS map_image_config JSONB`,
	},
}

// Migrate applies the base schema and any pending deltas. The base schema
// is idempotent; deltas run once each inside a transaction.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, baseSchema); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %q: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %q: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %q: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %q: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %q: %w", m.version, err)
		}
		logging.Info(ctx, "Applied schema migration", zap.String("version", m.version))
	}

	return nil
}
