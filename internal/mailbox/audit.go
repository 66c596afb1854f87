package mailbox

import (
	"context"
	"fmt"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	Actor     string
	Target    string
	EventType types.EventType
	Limit     int
}

// ListEvents returns audit events visible to the caller, newest first. Admins
// see every event; others see events they acted in or were targeted by, plus
// address book events.
func (s *Session) ListEvents(ctx context.Context, filter EventFilter) ([]types.AuditEvent, error) {
	query := &types.EventQueryOptions{EventType: filter.EventType, Limit: filter.Limit}
	var err error
	if query.Actor, err = optionalHandle(filter.Actor); err != nil {
		return nil, err
	}
	if query.Target, err = optionalHandle(filter.Target); err != nil {
		return nil, err
	}
	if filter.EventType != "" && !knownEventType(filter.EventType) {
		return nil, &core.ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", filter.EventType)}
	}

	var events []types.AuditEvent
	err = s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		events, err = db.GetAuditEvents(ctx, q, scope, query)
		return err
	})
	return events, err
}

func knownEventType(eventType types.EventType) bool {
	for _, known := range types.EventTypes {
		if known == eventType {
			return true
		}
	}
	return false
}
