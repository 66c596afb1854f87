package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/types"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

const eventColumns = `e.event_id, e.event_type, e.actor_handle, e.target_handle, e.details, e.timestamp`

// AppendAuditEvent inserts an audit event. There is deliberately no update or
// delete counterpart; triggers reject both at the storage level.
func AppendAuditEvent(ctx context.Context, db DBTX, event types.AuditEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, event_type, actor_handle, target_handle, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.EventType), event.ActorHandle, nullableValue(event.TargetHandle),
		string(encoded), formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetAuditEvents returns audit events visible in scope, newest first.
func GetAuditEvents(ctx context.Context, db DBTX, scope access.Scope, options *types.EventQueryOptions) ([]types.AuditEvent, error) {
	if options == nil {
		options = &types.EventQueryOptions{}
	}
	clause, args := scope.EventClause("e")
	conditions := []string{clause}

	if options.Actor != "" {
		conditions = append(conditions, "e.actor_handle = ?")
		args = append(args, options.Actor)
	}
	if options.Target != "" {
		conditions = append(conditions, "e.target_handle = ?")
		args = append(args, options.Target)
	}
	if options.EventType != "" {
		conditions = append(conditions, "e.event_type = ?")
		args = append(args, string(options.EventType))
	}

	query := "SELECT " + eventColumns + " FROM audit_log e" + whereClause(conditions) +
		" ORDER BY e.timestamp DESC, e.event_id DESC LIMIT ?"
	args = append(args, clampLimit(options.Limit, defaultEventLimit, maxEventLimit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	events := []types.AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (types.AuditEvent, error) {
	var (
		event     types.AuditEvent
		eventType string
		target    sql.NullString
		details   string
		timestamp string
	)
	if err := scanner.Scan(&event.ID, &eventType, &event.ActorHandle, &target, &details, &timestamp); err != nil {
		return types.AuditEvent{}, err
	}
	event.EventType = types.EventType(eventType)
	event.TargetHandle = nullStringPtr(target)
	var err error
	if event.Details, err = decodeMap[any](details); err != nil {
		return types.AuditEvent{}, err
	}
	if event.Timestamp, err = parseTime(timestamp); err != nil {
		return types.AuditEvent{}, err
	}
	return event, nil
}
