// Package repository opens the configured storage backend.
package repository

import (
	"context"
	"fmt"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/repository/postgres"
	"github.com/nanoassist/dashboard/internal/repository/sqlite"
)

// Backend bundles the repositories of one database.
type Backend struct {
	domain.Database
	Users      domain.UserRepository
	Profiles   domain.ProfileRepository
	Recordings domain.CallRecordRepository
	Metrics    domain.MetricSnapshotRepository

	// listen forwards database notifications to the publisher. Nil for
	// backends whose repositories publish directly.
	listen func(ctx context.Context) error
}

// Options select the backend. A non-empty URL means Postgres; otherwise
// the SQLite file at Path is used.
type Options struct {
	Path      string
	URL       string
	Publisher domain.ChangePublisher
}

// Open connects to the backend and applies its migrations.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	var b *Backend
	if opts.URL != "" {
		db, err := postgres.Connect(ctx, opts.URL, postgres.WithPublisher(opts.Publisher))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b = &Backend{
			Database:   db,
			Users:      db.Users(),
			Profiles:   db.Profiles(),
			Recordings: db.Recordings(),
			Metrics:    db.Metrics(),
		}
		if opts.Publisher != nil {
			b.listen = db.Listen
		}
	} else {
		var sqliteOpts []sqlite.Option
		if opts.Publisher != nil {
			sqliteOpts = append(sqliteOpts, sqlite.WithPublisher(opts.Publisher))
		}
		db, err := sqlite.New(opts.Path, sqliteOpts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b = &Backend{
			Database:   db,
			Users:      db.Users(),
			Profiles:   db.Profiles(),
			Recordings: db.Recordings(),
			Metrics:    db.Metrics(),
		}
	}

	if err := b.Migrate(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// Listen forwards database change notifications until ctx is cancelled.
// It returns immediately when the backend publishes changes itself.
func (b *Backend) Listen(ctx context.Context) error {
	if b.listen == nil {
		return nil
	}
	return b.listen(ctx)
}
