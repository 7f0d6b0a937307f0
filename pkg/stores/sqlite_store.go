package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/stagecast/stagecast/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreatePass records the start of a pass. An empty ID is assigned a
// fresh UUID; an empty status defaults to running.
func (s *SQLiteStore) CreatePass(ctx context.Context, pass *Pass) error {
	if pass.ID == "" {
		pass.ID = uuid.NewString()
	}
	if pass.Status == "" {
		pass.Status = engine.PassStatusRunning
	}
	if pass.StartedAt.IsZero() {
		pass.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO passes (id, document_path, environment, driver, status, stages_total, stages_succeeded, stages_failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		pass.ID,
		pass.DocumentPath,
		pass.Environment,
		pass.Driver,
		pass.Status,
		pass.StagesTotal,
		pass.StagesSucceeded,
		pass.StagesFailed,
		pass.Error,
		pass.StartedAt,
		pass.FinishedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create pass: %w", err)
	}

	return nil
}

// FinishPass records the terminal status and counters of a pass.
func (s *SQLiteStore) FinishPass(ctx context.Context, id string, status engine.PassStatus, succeeded, failed int, errMsg *string) error {
	query := `
		UPDATE passes
		SET status = ?, stages_succeeded = ?, stages_failed = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, succeeded, failed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish pass: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pass not found: %s", id)
	}

	return nil
}

// GetPass retrieves a pass by ID
func (s *SQLiteStore) GetPass(ctx context.Context, id string) (*Pass, error) {
	query := `
		SELECT id, document_path, environment, driver, status, stages_total, stages_succeeded, stages_failed, error, started_at, finished_at
		FROM passes
		WHERE id = ?
	`

	pass := &Pass{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&pass.ID,
		&pass.DocumentPath,
		&pass.Environment,
		&pass.Driver,
		&pass.Status,
		&pass.StagesTotal,
		&pass.StagesSucceeded,
		&pass.StagesFailed,
		&pass.Error,
		&pass.StartedAt,
		&pass.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pass not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	return pass, nil
}

// ListPasses lists passes newest first, optionally filtered by status.
func (s *SQLiteStore) ListPasses(ctx context.Context, status *engine.PassStatus, limit, offset int) ([]*Pass, error) {
	query := `
		SELECT id, document_path, environment, driver, status, stages_total, stages_succeeded, stages_failed, error, started_at, finished_at
		FROM passes
		WHERE (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	passes := []*Pass{}
	for rows.Next() {
		pass := &Pass{}
		err := rows.Scan(
			&pass.ID,
			&pass.DocumentPath,
			&pass.Environment,
			&pass.Driver,
			&pass.Status,
			&pass.StagesTotal,
			&pass.StagesSucceeded,
			&pass.StagesFailed,
			&pass.Error,
			&pass.StartedAt,
			&pass.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		passes = append(passes, pass)
	}

	return passes, rows.Err()
}

// RecordStageResult records one stage outcome for a pass. A stage is
// recorded at most once per pass.
func (s *SQLiteStore) RecordStageResult(ctx context.Context, result *StageResult) error {
	if result.RecordedAt.IsZero() {
		result.RecordedAt = time.Now().UTC()
	}
	if result.Retcodes == "" {
		result.Retcodes = "{}"
	}

	query := `
		INSERT INTO stage_results (pass_id, stage, kind, payload, retcodes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		result.PassID,
		result.Stage,
		result.Kind,
		result.Payload,
		result.Retcodes,
		result.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage result: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get stage result ID: %w", err)
	}
	result.ID = id

	return nil
}

// ListStageResults returns the stage results of a pass in recording order.
func (s *SQLiteStore) ListStageResults(ctx context.Context, passID string) ([]*StageResult, error) {
	query := `
		SELECT id, pass_id, stage, kind, payload, retcodes, recorded_at
		FROM stage_results
		WHERE pass_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage results: %w", err)
	}
	defer rows.Close()

	results := []*StageResult{}
	for rows.Next() {
		r := &StageResult{}
		err := rows.Scan(
			&r.ID,
			&r.PassID,
			&r.Stage,
			&r.Kind,
			&r.Payload,
			&r.Retcodes,
			&r.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// AppendEvent appends a new event to the pass log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (pass_id, seq, type, stage, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.PassID,
		event.Seq,
		event.Type,
		event.Stage,
		event.Payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id

	return nil
}

// ListEvents returns a pass's events in sequence order, optionally
// filtered by type.
func (s *SQLiteStore) ListEvents(ctx context.Context, passID string, eventType *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, pass_id, seq, type, stage, payload, timestamp
		FROM events
		WHERE pass_id = ?
		  AND (? IS NULL OR type = ?)
		ORDER BY seq ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, passID, eventType, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.PassID,
			&event.Seq,
			&event.Type,
			&event.Stage,
			&event.Payload,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
