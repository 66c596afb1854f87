package mailbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
)

// ListThreadsOptions filters ListThreads.
type ListThreadsOptions struct {
	Participant     string
	IncludeArchived bool
	Limit           int
}

// ListThreads returns visible threads ordered by last activity, newest first,
// with thread id as the tie-breaker.
func (s *Session) ListThreads(ctx context.Context, opts ListThreadsOptions) ([]types.Thread, error) {
	participant, err := optionalHandle(opts.Participant)
	if err != nil {
		return nil, err
	}
	query := &types.ThreadQueryOptions{
		Participant:     participant,
		IncludeArchived: opts.IncludeArchived,
		Limit:           opts.Limit,
	}
	var threads []types.Thread
	err = s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		threads, err = db.GetThreads(ctx, q, scope, query)
		return err
	})
	return threads, err
}

// GetThread returns a visible thread, or nil when it is unknown or hidden.
func (s *Session) GetThread(ctx context.Context, threadID string) (*types.Thread, error) {
	threadID = core.CleanID(threadID)
	if threadID == "" {
		return nil, nil
	}
	var thread *types.Thread
	err := s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		thread, err = db.GetThread(ctx, q, scope, threadID)
		return err
	})
	return thread, err
}

// GetThreadMetadata returns a visible thread's metadata, or nil when hidden.
func (s *Session) GetThreadMetadata(ctx context.Context, threadID string) (map[string]string, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil || thread == nil {
		return nil, err
	}
	return thread.Metadata, nil
}

// ArchiveThread hides a thread from default listings.
func (s *Session) ArchiveThread(ctx context.Context, threadID string) (*types.Thread, error) {
	return s.updateMetadata(ctx, threadID, types.EventThreadArchive, types.MetadataArchived, "true")
}

// UnarchiveThread returns an archived thread to default listings.
func (s *Session) UnarchiveThread(ctx context.Context, threadID string) (*types.Thread, error) {
	return s.updateMetadata(ctx, threadID, types.EventThreadUnarchive, types.MetadataArchived, "")
}

// SetThreadMetadata sets key on a visible thread. An empty value removes the key.
func (s *Session) SetThreadMetadata(ctx context.Context, threadID, key, value string) (*types.Thread, error) {
	key, err := core.ValidateMetadata(key, value)
	if err != nil {
		return nil, err
	}
	return s.updateMetadata(ctx, threadID, types.EventThreadMetadataSet, key, value)
}

func (s *Session) updateMetadata(ctx context.Context, threadID string, eventType types.EventType, key, value string) (*types.Thread, error) {
	threadID, err := core.RequireID("thread_id", threadID)
	if err != nil {
		return nil, err
	}

	var updated types.Thread
	err = s.write(ctx, string(eventType), func(tx *sql.Tx) error {
		scope, err := s.scope(ctx, tx)
		if err != nil {
			return err
		}
		thread, err := db.GetThread(ctx, tx, scope, threadID)
		if err != nil {
			return err
		}
		if thread == nil {
			return fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
		}

		old, had := thread.Metadata[key]
		if value == "" {
			delete(thread.Metadata, key)
		} else {
			thread.Metadata[key] = value
		}
		if err := db.SetThreadMetadata(ctx, tx, thread.ID, thread.Metadata); err != nil {
			return err
		}

		change := types.FieldChange{New: nilIfEmpty(value)}
		if had {
			change.Old = old
		}
		details := map[string]any{
			"thread_id": thread.ID,
			"key":       key,
			"change":    change,
		}
		if err := s.audit(ctx, tx, eventType, "", details, db.Now()); err != nil {
			return err
		}
		updated = *thread
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("thread_id", updated.ID).Str("key", key).Msg("thread metadata updated")
	return &updated, nil
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
