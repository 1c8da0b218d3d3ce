// Package archive journals published telemetry snapshots to SQLite so a
// client can chart more than the in-memory CPU history.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// busyTimeoutMillis lets a reader wait out the daemon's writer instead of
// failing with SQLITE_BUSY.
const busyTimeoutMillis = 5000

// DB is an open archive file.
type DB struct {
	conn     *sql.DB
	path     string
	readOnly bool
}

// Open opens or creates the archive at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	d, err := open(ctx, path, false)
	if err != nil {
		return nil, err
	}
	if err := d.checkJournalMode(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := RunMigrations(ctx, d.conn); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// OpenReadOnly opens an existing archive for reading, for example while the
// daemon is writing to it. It neither creates the file nor migrates it.
func OpenReadOnly(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return open(ctx, path, true)
}

func open(ctx context.Context, path string, readOnly bool) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path, readOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	// One connection keeps the per-connection pragmas in force and
	// serializes the journal's writes.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	return &DB{conn: conn, path: path, readOnly: readOnly}, nil
}

// dsn builds a modernc.org/sqlite URI; pragmas ride along as _pragma
// parameters and are applied to every new connection.
func dsn(path string, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

func (d *DB) checkJournalMode(ctx context.Context) error {
	var mode string
	if err := d.conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("archive %s: journal mode is %q, want wal", d.path, mode)
	}
	return nil
}

func (d *DB) SQL() *sql.DB {
	return d.conn
}

// Path returns the file the archive was opened from.
func (d *DB) Path() string { return d.path }

// ReadOnly reports whether the archive was opened with OpenReadOnly.
func (d *DB) ReadOnly() bool { return d.readOnly }

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
