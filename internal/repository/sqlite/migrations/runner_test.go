package migrations_test

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/nanoassist/dashboard/internal/repository/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A single connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first migration run: %v", err)
	}

	for _, table := range []string{"users", "profiles", "call_recordings", "call_metrics"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("second run (idempotent): %v", err)
	}

	files, err := migrations.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != len(files) {
		t.Fatalf("expected %d migration records, got %d", len(files), count)
	}
}

func TestRunFS_DetectsModifiedMigration(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	v1 := fstest.MapFS{
		"001_things.sql": {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
	}
	if err := migrations.RunFS(ctx, db, v1); err != nil {
		t.Fatalf("first run: %v", err)
	}

	v2 := fstest.MapFS{
		"001_things.sql": {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT);")},
	}
	if err := migrations.RunFS(ctx, db, v2); !errors.Is(err, migrations.ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		want    []int
		wantErr bool
	}{
		{
			name: "ordered by version",
			fsys: fstest.MapFS{
				"010_late.sql":  {Data: []byte("SELECT 1;")},
				"002_early.sql": {Data: []byte("SELECT 1;")},
				"README.md":     {Data: []byte("ignored")},
			},
			want: []int{2, 10},
		},
		{
			name:    "missing prefix",
			fsys:    fstest.MapFS{"users.sql": {Data: []byte("SELECT 1;")}},
			wantErr: true,
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"001_a.sql": {Data: []byte("SELECT 1;")},
				"1_b.sql":   {Data: []byte("SELECT 1;")},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrations.Load(tt.fsys)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			var versions []int
			for _, m := range got {
				versions = append(versions, m.Version)
			}
			if !slices.Equal(versions, tt.want) {
				t.Fatalf("got versions %v, want %v", versions, tt.want)
			}
		})
	}
}
