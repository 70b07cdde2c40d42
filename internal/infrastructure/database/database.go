package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

const (
	dirMode  = 0o750
	fileMode = 0o600

	pingTimeout     = 5 * time.Second
	connMaxLifetime = time.Hour
	connMaxIdleTime = 30 * time.Minute
)

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path is the database file. Missing parent directories are created.
	Path string

	// WALMode turns on write-ahead logging. In-memory databases ignore it.
	WALMode bool

	// BusyTimeout is how many seconds a statement waits on a locked database.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always on:
// device/template links depend on them to refuse deleting a template that is
// still attached.
func (c Config) dsn() string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	if c.Path == MemoryPath {
		return "file::memory:?" + q.Encode()
	}
	q.Set("_busy_timeout", strconv.Itoa(c.BusyTimeout*1000))
	if c.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

// DB is the registry's SQLite handle. The embedded *sql.DB is used directly
// for queries; DB adds lifecycle, health and migration helpers.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the database described by cfg and pings it.
//
// The pool holds exactly one connection. Writers are serialised, which makes
// each registry unit of work atomic with respect to the others, and an
// in-memory database lives as long as the pool.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	onDisk := cfg.Path != MemoryPath
	if onDisk {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	pool, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	if onDisk {
		pool.SetConnMaxLifetime(connMaxLifetime)
		pool.SetConnMaxIdleTime(connMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if onDisk {
		// The file may not exist until the first write.
		_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck
	}
	return &DB{DB: pool, path: cfg.Path}, nil
}

// Close releases the pool. Closing twice is harmless.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path is the path Open was called with.
func (db *DB) Path() string { return db.path }

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // fn's error is the one worth reporting
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
