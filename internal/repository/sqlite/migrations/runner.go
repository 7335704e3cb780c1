package migrations

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
)

// ErrChecksum reports an applied migration whose file has since changed.
var ErrChecksum = errors.New("applied migration was modified")

// Migration is one embedded schema step. Files are named NNN_name.sql and
// applied in version order.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Load parses the migrations in fsys.
func Load(fsys fs.FS) ([]Migration, error) {
	paths, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(paths))
	for _, p := range paths {
		prefix, name, ok := strings.Cut(strings.TrimSuffix(path.Base(p), ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: want NNN_name.sql", p)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version < 1 {
			return nil, fmt.Errorf("migration %s: bad version %q", p, prefix)
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// Run applies the embedded migrations that db has not seen yet, each in its
// own transaction. Running it again is a no-op. An applied migration whose
// file changed fails with ErrChecksum.
func Run(ctx context.Context, db *sql.DB) error {
	return RunFS(ctx, db, FS)
}

// RunFS is Run with the migrations read from fsys.
func RunFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	migrations, err := Load(fsys)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	fresh := 0
	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("%w: %03d_%s", ErrChecksum, m.Version, m.Name)
			}
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		fresh++
		slog.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	slog.Debug("schema up to date", "version", len(migrations), "new", fresh)
	return nil
}

// Files lists the embedded migration files in the order Run applies them.
func Files() ([]string, error) {
	migrations, err := Load(FS)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(migrations))
	for i, m := range migrations {
		names[i] = fmt.Sprintf("%03d_%s.sql", m.Version, m.Name)
	}
	return names, nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			version int
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		out[version] = sum
	}
	return out, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		m.Version, m.Name, m.Checksum); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
