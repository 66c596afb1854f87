package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout is how long a writer waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// OpenOptions tunes how the store is opened.
type OpenOptions struct {
	BusyTimeout time.Duration
	// ReadOnly opens the file without write access; the schema must already exist.
	ReadOnly bool
}

// OpenDatabase opens the SQLite store at path and checks its schema version.
//
// Every pooled connection gets foreign keys, WAL, and a bounded busy timeout.
// Transactions begin IMMEDIATE so a writer takes the write lock up front and
// waits at most BusyTimeout for it.
func OpenDatabase(ctx context.Context, path string, opts OpenOptions) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: path required")
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store: %s is not a directory", dir)
	}

	conn, err := sql.Open("sqlite", buildDSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open store: %w", classifyError(err))
	}

	if opts.ReadOnly {
		err = CheckSchema(ctx, conn)
	} else {
		err = InitSchema(ctx, conn)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func buildDSN(path string, opts OpenOptions) string {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	if opts.ReadOnly {
		params.Set("mode", "ro")
	} else {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
		params.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + params.Encode()
}
