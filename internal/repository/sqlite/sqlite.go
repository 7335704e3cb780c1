package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/repository/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and hands out the repositories built on it.
// Writes to watched tables are reported to the configured publisher.
type DB struct {
	SqlDB     *sql.DB
	publisher domain.ChangePublisher
}

// Option configures a DB.
type Option func(*DB)

// WithPublisher reports row changes on profiles, call_recordings and
// call_metrics to pub.
func WithPublisher(pub domain.ChangePublisher) Option {
	return func(db *DB) { db.publisher = pub }
}

// New opens a SQLite database at the given path and configures it for use.
// It enables WAL mode and foreign keys.
func New(dbPath string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{SqlDB: sqlDB}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, db.SqlDB)
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.SqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.SqlDB.Close()
}

func (db *DB) Users() *UserRepository            { return NewUserRepository(db) }
func (db *DB) Profiles() *ProfileRepository      { return NewProfileRepository(db) }
func (db *DB) Recordings() *CallRecordRepository { return NewCallRecordRepository(db) }
func (db *DB) Metrics() *MetricRepository        { return NewMetricRepository(db) }

func (db *DB) publish(event domain.ChangeEvent) {
	if db.publisher != nil {
		db.publisher.Publish(event)
	}
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// in range queries matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
