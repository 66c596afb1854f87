// Package mailbox is the session engine of mailroom: the single surface through
// which agents send and reply to threaded messages, edit the shared address
// book, and read the audit log.
//
// A Session is bound to one agent identity. Every state-changing call is one
// SQLite transaction that includes its audit event; every read is filtered by
// the caller's access scope, resolved fresh per call.
package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/rs/zerolog"
)

// Options configures how a store is opened and how sessions behave.
type Options struct {
	// BusyTimeout bounds the wait for the writer lock. Zero means 5s.
	BusyTimeout time.Duration
	// BusyRetries is how many times a write that hit ErrStoreBusy is retried
	// with exponential backoff before the error is returned. Zero disables.
	BusyRetries int
	// ReadOnly opens an existing store without write access. Writes fail with
	// core.ErrReadOnly and the open never waits on a writer.
	ReadOnly bool
	// AdminTag is the address book tag granting unrestricted reads.
	AdminTag string
	// Logger receives debug logs for writes. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = db.DefaultBusyTimeout
	}
	if o.AdminTag == "" {
		o.AdminTag = access.DefaultAdminTag
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Store is an open handle to a mailroom store file, shareable by many sessions.
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// OpenStore opens (creating if empty) the store at path. A schema version
// mismatch or an inaccessible path is returned as a fatal error. A read-only
// store must already exist.
func OpenStore(ctx context.Context, path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	conn, err := db.OpenDatabase(ctx, path, db.OpenOptions{
		BusyTimeout: opts.BusyTimeout,
		ReadOnly:    opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug().Str("path", path).Bool("read_only", opts.ReadOnly).Msg("store opened")
	return &Store{db: conn, path: path, opts: opts}, nil
}

// Path returns the store file path.
func (st *Store) Path() string {
	return st.path
}

// Close releases the store's connections.
func (st *Store) Close() error {
	return st.db.Close()
}

// Session binds a new session to identity. The session does not own the store;
// closing it leaves the store open.
func (st *Store) Session(identity types.Identity) (*Session, error) {
	handle, err := core.NormalizeHandle(identity.Handle)
	if err != nil {
		return nil, err
	}
	identity.Handle = handle
	logger := st.opts.Logger.With().Str("actor", handle).Logger()
	return &Session{store: st, identity: identity, log: logger}, nil
}

// Open opens the store at path and binds a session to identity. Closing the
// session closes the store.
func Open(ctx context.Context, path string, identity types.Identity, opts Options) (*Session, error) {
	if _, err := core.NormalizeHandle(identity.Handle); err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	session, err := st.Session(identity)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	session.owned = true
	return session, nil
}
