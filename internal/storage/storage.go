// Package storage provides SQL persistence for process telemetry, scored
// records and ingestion watermarks. SQLite and PostgreSQL are supported.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/procwatch/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
}

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// New opens the database described by cfg and creates the schema.
// An empty SQLite DSN defaults to $TMPDIR/procwatch/data.db.
func New(cfg Config) (*Storage, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(cfg.DSN)
	case DriverPostgres:
		return openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(dsn string) (*Storage, error) {
	if dsn == "" {
		dsn = filepath.Join(os.TempDir(), "procwatch", "data.db")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	return initialize(db, DriverSQLite)
}

func openPostgres(dsn string) (*Storage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres requires a DSN")
	}
	db, err := sqlx.Connect(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return initialize(db, DriverPostgres)
}

func initialize(db *sqlx.DB, driver string) (*Storage, error) {
	s := &Storage{db: db, driver: driver, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_data (
			ds          BIGINT NOT NULL,
			variable    TEXT NOT NULL,
			value       DOUBLE PRECISION,
			source_file TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (variable, ds)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_process_data_ds ON process_data(ds)`,
		`CREATE TABLE IF NOT EXISTS anomaly_records (
			id                   TEXT PRIMARY KEY,
			ds                   BIGINT NOT NULL,
			y                    DOUBLE PRECISION NOT NULL,
			yhat                 DOUBLE PRECISION NOT NULL,
			yhat_lower           DOUBLE PRECISION NOT NULL,
			yhat_upper           DOUBLE PRECISION NOT NULL,
			residual             DOUBLE PRECISION NOT NULL,
			outside_interval     BOOLEAN NOT NULL,
			high_residual        BOOLEAN NOT NULL,
			is_anomaly           BOOLEAN NOT NULL,
			anomaly_score        DOUBLE PRECISION NOT NULL,
			variable             TEXT NOT NULL,
			prediction_error_pct DOUBLE PRECISION,
			source_file          TEXT NOT NULL DEFAULT '',
			processed_at         BIGINT NOT NULL,
			UNIQUE (variable, ds)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomaly_records_ds ON anomaly_records(ds)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			scope TEXT PRIMARY KEY,
			ts    BIGINT NOT NULL
		)`,
		s.viewDDL(),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) viewDDL() string {
	const body = ` AS SELECT * FROM anomaly_records WHERE is_anomaly = TRUE`
	if s.driver == DriverPostgres {
		return `CREATE OR REPLACE VIEW anomalies` + body
	}
	return `CREATE VIEW IF NOT EXISTS anomalies` + body
}

func fromNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func sourceErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, models.ErrSourceUnavailable, err)
}
