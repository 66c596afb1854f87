package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
)

// EntryInput describes a new address book entry. New entries are active.
type EntryInput struct {
	Handle      string
	DisplayName string
	Description string
	Tags        []string
}

// EntryUpdate changes the fields that are non-nil. With ExpectedVersion set the
// update fails with *core.ConflictError unless it matches the stored version;
// without it the last write wins.
type EntryUpdate struct {
	DisplayName     *string
	Description     *string
	Tags            *[]string
	IsActive        *bool
	ExpectedVersion *int64
}

// ListEntriesOptions filters ListEntries.
type ListEntriesOptions struct {
	ActiveOnly    bool
	Tag           string
	HandlePattern string
	Limit         int
}

// SearchEntriesOptions narrows SearchEntries.
type SearchEntriesOptions struct {
	Tag        string
	ActiveOnly bool
	Limit      int
}

// AddEntry adds a directory entry at version 1.
func (s *Session) AddEntry(ctx context.Context, input EntryInput) (*types.AddressBookEntry, error) {
	handle, err := core.NormalizeHandle(input.Handle)
	if err != nil {
		return nil, err
	}
	displayName, err := core.ValidateDisplayName(input.DisplayName)
	if err != nil {
		return nil, err
	}
	description, err := core.ValidateDescription(input.Description)
	if err != nil {
		return nil, err
	}
	tags, err := core.NormalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	now := db.Now()
	entry := types.AddressBookEntry{
		Handle:      handle,
		DisplayName: displayName,
		Description: description,
		Tags:        tags,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   s.identity.Handle,
		Version:     1,
	}

	err = s.write(ctx, "address_book_add", func(tx *sql.Tx) error {
		if entry.HasTag(s.store.opts.AdminTag) {
			if err := s.checkAdminChange(ctx, tx); err != nil {
				return err
			}
		}
		if err := db.CreateEntry(ctx, tx, entry); err != nil {
			return err
		}
		details := map[string]any{
			"changes": map[string]types.FieldChange{
				"display_name": {New: entry.DisplayName},
				"description":  {New: entry.Description},
				"tags":         {New: entry.Tags},
				"is_active":    {New: true},
			},
			"version": entry.Version,
		}
		return s.audit(ctx, tx, types.EventAddressBookAdd, handle, details, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("handle", handle).Msg("address book entry added")
	return &entry, nil
}

// UpdateEntry applies update to the entry for handle. Every successful update
// bumps the version by exactly one.
func (s *Session) UpdateEntry(ctx context.Context, handle string, update EntryUpdate) (*types.AddressBookEntry, error) {
	return s.updateEntry(ctx, handle, update, types.EventAddressBookUpdate)
}

// DeactivateEntry soft-deletes the entry for handle.
func (s *Session) DeactivateEntry(ctx context.Context, handle string, expectedVersion *int64) (*types.AddressBookEntry, error) {
	inactive := false
	return s.updateEntry(ctx, handle, EntryUpdate{IsActive: &inactive, ExpectedVersion: expectedVersion}, types.EventAddressBookDeactivate)
}

func (s *Session) updateEntry(ctx context.Context, rawHandle string, update EntryUpdate, eventType types.EventType) (*types.AddressBookEntry, error) {
	handle, err := core.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, err
	}
	if update, err = validateUpdate(update); err != nil {
		return nil, err
	}

	var result types.AddressBookEntry
	err = s.write(ctx, string(eventType), func(tx *sql.Tx) error {
		current, err := db.GetEntry(ctx, tx, handle)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("address book entry %s: %w", handle, core.ErrNotFound)
		}
		if update.ExpectedVersion != nil && *update.ExpectedVersion != current.Version {
			return &core.ConflictError{Handle: handle, ExpectedVersion: *update.ExpectedVersion, CurrentVersion: current.Version}
		}

		next, changes := applyUpdate(*current, update)
		next.UpdatedAt = db.Now()
		next.UpdatedBy = s.identity.Handle
		next.Version = current.Version + 1

		if access.IsAdmin(current, s.store.opts.AdminTag) != access.IsAdmin(&next, s.store.opts.AdminTag) ||
			current.HasTag(s.store.opts.AdminTag) != next.HasTag(s.store.opts.AdminTag) {
			if err := s.checkAdminChange(ctx, tx); err != nil {
				return err
			}
		}

		ok, err := db.UpdateEntry(ctx, tx, next, current.Version)
		if err != nil {
			return err
		}
		if !ok {
			latest, err := db.GetEntry(ctx, tx, handle)
			if err != nil {
				return err
			}
			conflict := &core.ConflictError{Handle: handle, ExpectedVersion: current.Version}
			if latest != nil {
				conflict.CurrentVersion = latest.Version
			}
			return conflict
		}

		details := map[string]any{"changes": changes, "version": next.Version}
		if err := s.audit(ctx, tx, eventType, handle, details, next.UpdatedAt); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("handle", handle).Int64("version", result.Version).Msg("address book entry updated")
	return &result, nil
}

func validateUpdate(update EntryUpdate) (EntryUpdate, error) {
	if update.DisplayName != nil {
		name, err := core.ValidateDisplayName(*update.DisplayName)
		if err != nil {
			return update, err
		}
		update.DisplayName = &name
	}
	if update.Description != nil {
		desc, err := core.ValidateDescription(*update.Description)
		if err != nil {
			return update, err
		}
		update.Description = &desc
	}
	if update.Tags != nil {
		tags, err := core.NormalizeTags(*update.Tags)
		if err != nil {
			return update, err
		}
		update.Tags = &tags
	}
	if update.ExpectedVersion != nil && *update.ExpectedVersion < 1 {
		return update, &core.ValidationError{Field: "expected_version", Reason: "must be at least 1"}
	}
	return update, nil
}

// applyUpdate returns the updated entry and the fields that actually changed.
func applyUpdate(entry types.AddressBookEntry, update EntryUpdate) (types.AddressBookEntry, map[string]types.FieldChange) {
	changes := map[string]types.FieldChange{}
	if update.DisplayName != nil && *update.DisplayName != entry.DisplayName {
		changes["display_name"] = types.FieldChange{Old: entry.DisplayName, New: *update.DisplayName}
		entry.DisplayName = *update.DisplayName
	}
	if update.Description != nil && *update.Description != entry.Description {
		changes["description"] = types.FieldChange{Old: entry.Description, New: *update.Description}
		entry.Description = *update.Description
	}
	if update.Tags != nil && !sameStrings(*update.Tags, entry.Tags) {
		changes["tags"] = types.FieldChange{Old: entry.Tags, New: *update.Tags}
		entry.Tags = *update.Tags
	}
	if update.IsActive != nil && *update.IsActive != entry.IsActive {
		changes["is_active"] = types.FieldChange{Old: entry.IsActive, New: *update.IsActive}
		entry.IsActive = *update.IsActive
	}
	return entry, changes
}

func (s *Session) checkAdminChange(ctx context.Context, tx *sql.Tx) error {
	scope, err := s.scope(ctx, tx)
	if err != nil {
		return err
	}
	admins, err := db.CountActiveWithTag(ctx, tx, s.store.opts.AdminTag)
	if err != nil {
		return err
	}
	if !scope.CanChangeAdminTag(admins) {
		return fmt.Errorf("only an admin may grant or revoke the %q tag: %w", s.store.opts.AdminTag, core.ErrForbidden)
	}
	return nil
}

// GetEntry returns the entry for handle, or nil.
func (s *Session) GetEntry(ctx context.Context, handle string) (*types.AddressBookEntry, error) {
	handle, err := core.NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	var entry *types.AddressBookEntry
	err = s.read(ctx, func(q db.DBTX, _ access.Scope) error {
		var err error
		entry, err = db.GetEntry(ctx, q, handle)
		return err
	})
	return entry, err
}

// ListEntries lists directory entries ordered by handle.
func (s *Session) ListEntries(ctx context.Context, opts ListEntriesOptions) ([]types.AddressBookEntry, error) {
	tag, err := optionalTag(opts.Tag)
	if err != nil {
		return nil, err
	}
	query := &types.EntryQueryOptions{
		Tag:           tag,
		HandlePattern: strings.ToLower(strings.TrimSpace(opts.HandlePattern)),
		ActiveOnly:    opts.ActiveOnly,
		Limit:         opts.Limit,
	}
	return s.queryEntries(ctx, query)
}

// SearchEntries finds entries whose handle, display name or description
// contains query, case-insensitively.
func (s *Session) SearchEntries(ctx context.Context, query string, opts SearchEntriesOptions) ([]types.AddressBookEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	tag, err := optionalTag(opts.Tag)
	if err != nil {
		return nil, err
	}
	return s.queryEntries(ctx, &types.EntryQueryOptions{
		Query:      query,
		Tag:        tag,
		ActiveOnly: opts.ActiveOnly,
		Limit:      opts.Limit,
	})
}

func (s *Session) queryEntries(ctx context.Context, query *types.EntryQueryOptions) ([]types.AddressBookEntry, error) {
	var entries []types.AddressBookEntry
	err := s.read(ctx, func(q db.DBTX, _ access.Scope) error {
		var err error
		entries, err = db.GetEntries(ctx, q, query)
		return err
	})
	return entries, err
}

func optionalTag(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	tags, err := core.NormalizeTags([]string{raw})
	if err != nil {
		return "", err
	}
	return tags[0], nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
