package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nanoassist/dashboard/internal/domain"
)

//go:embed schema.sql
var schema string

// DB is a pgx connection pool to the hosted record store. Row changes are
// not published by the repositories: the schema's triggers announce them on
// the notification channel and Listen forwards them to the publisher.
type DB struct {
	Pool      *pgxpool.Pool
	publisher domain.ChangePublisher
}

// Option configures a DB.
type Option func(*DB)

// WithPublisher forwards notifications received by Listen to pub.
func WithPublisher(pub domain.ChangePublisher) Option {
	return func(db *DB) { db.publisher = pub }
}

func Connect(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	db := &DB{Pool: pool}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Ping checks that the database answers a trivial query.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Migrate applies the embedded schema. Every statement in it is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}

func (db *DB) Users() *UserRepository            { return &UserRepository{pool: db.Pool} }
func (db *DB) Profiles() *ProfileRepository      { return &ProfileRepository{pool: db.Pool} }
func (db *DB) Recordings() *CallRecordRepository { return &CallRecordRepository{pool: db.Pool} }
func (db *DB) Metrics() *MetricRepository        { return &MetricRepository{pool: db.Pool} }
