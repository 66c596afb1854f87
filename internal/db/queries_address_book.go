package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/gobwas/glob"
)

const (
	defaultEntryLimit = 200
	maxEntryLimit     = 1000
)

const entryColumns = `a.handle, a.display_name, a.description, a.tags, a.is_active, a.created_at, a.updated_at, a.updated_by, a.version`

// CreateEntry inserts a new address book entry. A duplicate handle returns
// core.ErrAlreadyExists.
func CreateEntry(ctx context.Context, db DBTX, entry types.AddressBookEntry) error {
	tags, err := encodeStrings(entry.Tags)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO address_book (handle, display_name, description, tags, is_active, created_at, updated_at, updated_by, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Handle, entry.DisplayName, entry.Description, tags, boolToInt(entry.IsActive),
		formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt), entry.UpdatedBy, entry.Version)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("address book entry %s: %w", entry.Handle, core.ErrAlreadyExists)
		}
		return fmt.Errorf("insert address book entry: %w", err)
	}
	return nil
}

// GetEntry returns an address book entry by handle, or nil.
func GetEntry(ctx context.Context, db DBTX, handle string) (*types.AddressBookEntry, error) {
	row := db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM address_book a WHERE a.handle = ?", handle)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateEntry writes entry over the row currently at fromVersion and bumps the
// version by exactly one. It reports false when the row has moved on.
func UpdateEntry(ctx context.Context, db DBTX, entry types.AddressBookEntry, fromVersion int64) (bool, error) {
	tags, err := encodeStrings(entry.Tags)
	if err != nil {
		return false, err
	}
	result, err := db.ExecContext(ctx, `
		UPDATE address_book
		SET display_name = ?, description = ?, tags = ?, is_active = ?, updated_at = ?, updated_by = ?, version = version + 1
		WHERE handle = ? AND version = ?
	`, entry.DisplayName, entry.Description, tags, boolToInt(entry.IsActive),
		formatTime(entry.UpdatedAt), entry.UpdatedBy, entry.Handle, fromVersion)
	if err != nil {
		return false, fmt.Errorf("update address book entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetEntries lists address book entries ordered by handle.
//
// Query matches handle, display name or description case-insensitively.
// HandlePattern is a glob ("ops-*") applied after the SQL filters.
func GetEntries(ctx context.Context, db DBTX, options *types.EntryQueryOptions) ([]types.AddressBookEntry, error) {
	if options == nil {
		options = &types.EntryQueryOptions{}
	}

	var matcher glob.Glob
	if options.HandlePattern != "" {
		compiled, err := glob.Compile(options.HandlePattern)
		if err != nil {
			return nil, &core.ValidationError{Field: "handle_pattern", Reason: err.Error()}
		}
		matcher = compiled
	}

	var conditions []string
	var args []any
	if options.ActiveOnly {
		conditions = append(conditions, "a.is_active = 1")
	}
	if options.Tag != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(a.tags) g WHERE g.value = ?)")
		args = append(args, options.Tag)
	}
	if options.Query != "" {
		needle := foldCase(options.Query)
		conditions = append(conditions, "("+containsFolded("a.handle")+" OR "+
			containsFolded("a.display_name")+" OR "+containsFolded("a.description")+")")
		args = append(args, needle, needle, needle)
	}

	query := "SELECT " + entryColumns + " FROM address_book a" + whereClause(conditions) + " ORDER BY a.handle ASC"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query address book: %w", err)
	}
	defer rows.Close()

	limit := clampLimit(options.Limit, defaultEntryLimit, maxEntryLimit)
	entries := []types.AddressBookEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if matcher != nil && !matcher.Match(entry.Handle) {
			continue
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountActiveWithTag counts active entries carrying tag.
func CountActiveWithTag(ctx context.Context, db DBTX, tag string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM address_book a
		WHERE a.is_active = 1 AND EXISTS (SELECT 1 FROM json_each(a.tags) g WHERE g.value = ?)
	`, tag).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (types.AddressBookEntry, error) {
	var (
		entry     types.AddressBookEntry
		tags      string
		isActive  int
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&entry.Handle, &entry.DisplayName, &entry.Description, &tags, &isActive,
		&createdAt, &updatedAt, &entry.UpdatedBy, &entry.Version); err != nil {
		return types.AddressBookEntry{}, err
	}
	var err error
	if entry.Tags, err = decodeStrings(tags); err != nil {
		return types.AddressBookEntry{}, err
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.AddressBookEntry{}, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.AddressBookEntry{}, err
	}
	entry.IsActive = isActive != 0
	return entry, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
