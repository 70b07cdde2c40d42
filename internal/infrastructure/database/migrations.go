package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// ErrNoDownMigration is returned by MigrateDown when the newest applied
// migration has no .down.sql file.
var ErrNoDownMigration = errors.New("database: migration has no down SQL")

// Migration is one schema change. Files are named
// YYYYMMDD_HHMMSS[_name].up.sql with an optional matching .down.sql.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus splits the known migrations into applied and pending, both
// oldest first.
type MigrationStatus struct {
	Applied []MigrationRecord
	Pending []Migration
}

var source struct {
	fsys fs.FS
	dir  string
}

// RegisterMigrations names the filesystem migrations are read from. The
// migrations package calls it from init with its embedded SQL files.
func RegisterMigrations(fsys fs.FS, dir string) {
	source.fsys, source.dir = fsys, dir
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migrate applies every pending migration, each in its own transaction. A
// failure leaves earlier migrations committed; running Migrate again resumes
// at the one that failed.
func (db *DB) Migrate(ctx context.Context) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range status.Pending {
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration and returns its version,
// or "" when nothing is applied.
func (db *DB) MigrateDown(ctx context.Context) (string, error) {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return "", err
	}
	if len(status.Applied) == 0 {
		return "", nil
	}
	version := status.Applied[len(status.Applied)-1].Version

	all, err := readMigrations()
	if err != nil {
		return "", fmt.Errorf("loading migrations: %w", err)
	}
	i, found := slices.BinarySearchFunc(all, version, func(m Migration, v string) int {
		return cmp.Compare(m.Version, v)
	})
	if !found {
		return "", fmt.Errorf("migration %s not found in source", version)
	}
	m := all[i]
	if m.DownSQL == "" {
		return "", fmt.Errorf("%w: %s", ErrNoDownMigration, version)
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("reverting migration %s: %w", version, err)
	}
	return version, nil
}

// MigrationStatus compares the source against schema_migrations, creating
// that table on first use.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationStatus{}, fmt.Errorf("creating migrations table: %w", err)
	}
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("getting applied migrations: %w", err)
	}
	all, err := readMigrations()
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		done[r.Version] = struct{}{}
	}
	status := MigrationStatus{Applied: applied}
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			at string
		)
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, err
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		out = append(out, r)
	}
	return out, rows.Err()
}

// readMigrations loads the registered source sorted by version. No source,
// or a missing directory, means no migrations. A .down.sql without its .up.sql
// is skipped.
func readMigrations() ([]Migration, error) {
	if source.fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(source.fsys, source.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, e := range entries {
		version, isUp, ok := parseMigrationFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(source.fsys, path.Join(source.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			m.Name, m.UpSQL = extractMigrationName(e.Name()), string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// splitMigrationName strips the extension and direction from a filename.
// ok is false for anything but *.up.sql and *.down.sql.
func splitMigrationName(filename string) (stem string, isUp, ok bool) {
	stem, ok = strings.CutSuffix(filename, ".sql")
	if !ok {
		return "", false, false
	}
	if s, up := strings.CutSuffix(stem, ".up"); up {
		return s, true, true
	}
	if s, down := strings.CutSuffix(stem, ".down"); down {
		return s, false, true
	}
	return "", false, false
}

// parseMigrationFilename returns the YYYYMMDD_HHMMSS version of a migration
// file and whether it is the up direction.
func parseMigrationFilename(filename string) (version string, isUp, ok bool) {
	stem, isUp, ok := splitMigrationName(filename)
	if !ok {
		return "", false, false
	}
	date, rest, found := strings.Cut(stem, "_")
	if !found {
		return "", false, false
	}
	clock, _, _ := strings.Cut(rest, "_")
	return date + "_" + clock, isUp, true
}

// extractMigrationName returns the part after the version,
// "20260118_120000_initial_schema.up.sql" gives "initial_schema". A file
// with no name part yields its version.
func extractMigrationName(filename string) string {
	stem, _, _ := splitMigrationName(filename)
	if stem == "" {
		stem = strings.TrimSuffix(filename, ".sql")
	}
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return stem
}
