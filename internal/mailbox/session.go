package mailbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Session is the engine surface bound to one agent identity.
type Session struct {
	store    *Store
	identity types.Identity
	log      zerolog.Logger
	owned    bool
	closed   bool
}

// Identity returns the identity the session acts as.
func (s *Session) Identity() types.Identity {
	return s.identity
}

// Handle returns the caller's canonical handle.
func (s *Session) Handle() string {
	return s.identity.Handle
}

// Close ends the session, closing the store if the session opened it.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.store.Close()
	}
	return nil
}

// IsAdmin reports whether the caller currently holds the admin marker.
func (s *Session) IsAdmin(ctx context.Context) (bool, error) {
	scope, err := s.scope(ctx, s.store.db)
	if err != nil {
		return false, err
	}
	return scope.Admin, nil
}

// scope resolves the caller's visibility against the current address book.
func (s *Session) scope(ctx context.Context, q db.DBTX) (access.Scope, error) {
	entry, err := db.GetEntry(ctx, q, s.identity.Handle)
	if err != nil {
		return access.Scope{}, err
	}
	return access.Resolve(s.identity.Handle, entry, s.store.opts.AdminTag), nil
}

// write runs fn as one transaction, retrying on store contention when the
// store was opened with BusyRetries.
func (s *Session) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if s.closed {
		return errors.New("session closed")
	}
	if s.store.opts.ReadOnly {
		return fmt.Errorf("%s: %w", op, core.ErrReadOnly)
	}
	retries := s.store.opts.BusyRetries
	attempt := func() error {
		err := db.WithTx(ctx, s.store.db, fn)
		if err == nil || core.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if retries <= 0 {
		return db.WithTx(ctx, s.store.db, fn)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	return backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		s.log.Debug().Err(err).Str("op", op).Dur("wait", wait).Msg("store busy, retrying")
	})
}

// read runs a read-only query function against the store.
func (s *Session) read(ctx context.Context, fn func(q db.DBTX, scope access.Scope) error) error {
	if s.closed {
		return errors.New("session closed")
	}
	scope, err := s.scope(ctx, s.store.db)
	if err != nil {
		return err
	}
	return fn(s.store.db, scope)
}

func (s *Session) audit(ctx context.Context, tx *sql.Tx, eventType types.EventType, target string, details map[string]any, at time.Time) error {
	id, err := core.NewID(core.PrefixEvent)
	if err != nil {
		return err
	}
	event := types.AuditEvent{
		ID:          id,
		EventType:   eventType,
		ActorHandle: s.identity.Handle,
		Details:     details,
		Timestamp:   at,
	}
	if target != "" {
		event.TargetHandle = &target
	}
	return db.AppendAuditEvent(ctx, tx, event)
}
