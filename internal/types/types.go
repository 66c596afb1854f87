package types

import "time"

// MetadataArchived is the thread metadata key that marks a thread archived.
const MetadataArchived = "archived"

// Identity is the agent a session acts as.
type Identity struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

// Message is an immutable message within a thread.
type Message struct {
	ID         string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	FromHandle string    `json:"from_handle"`
	ToHandles  []string  `json:"to_handles"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	InReplyTo  *string   `json:"in_reply_to,omitempty"`
	Tags       []string  `json:"tags"`
}

// Thread is a conversation container. ParticipantHandles is derived from its messages.
type Thread struct {
	ID                 string            `json:"thread_id"`
	Subject            string            `json:"subject"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActivityAt     time.Time         `json:"last_activity_at"`
	ParticipantHandles []string          `json:"participant_handles"`
	Metadata           map[string]string `json:"metadata"`
}

// Archived reports whether the thread carries the archived metadata flag.
func (t Thread) Archived() bool {
	return t.Metadata[MetadataArchived] == "true"
}

// AddressBookEntry is a versioned directory record for an agent.
type AddressBookEntry struct {
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
	Version     int64     `json:"version"`
}

// HasTag reports whether the entry carries tag.
func (e AddressBookEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EventType enumerates audit event kinds.
type EventType string

const (
	EventThreadCreate          EventType = "thread_create"
	EventMessageSend           EventType = "message_send"
	EventMessageReply          EventType = "message_reply"
	EventMessageBroadcast      EventType = "message_broadcast"
	EventMessageGroup          EventType = "message_group"
	EventThreadArchive         EventType = "thread_archive"
	EventThreadUnarchive       EventType = "thread_unarchive"
	EventThreadMetadataSet     EventType = "thread_metadata_set"
	EventAddressBookAdd        EventType = "address_book_add"
	EventAddressBookUpdate     EventType = "address_book_update"
	EventAddressBookDeactivate EventType = "address_book_deactivate"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventThreadCreate,
	EventMessageSend,
	EventMessageReply,
	EventMessageBroadcast,
	EventMessageGroup,
	EventThreadArchive,
	EventThreadUnarchive,
	EventThreadMetadataSet,
	EventAddressBookAdd,
	EventAddressBookUpdate,
	EventAddressBookDeactivate,
}

// IsAddressBook reports whether the event type belongs to the address book.
func (t EventType) IsAddressBook() bool {
	switch t {
	case EventAddressBookAdd, EventAddressBookUpdate, EventAddressBookDeactivate:
		return true
	}
	return false
}

// AuditEvent is an append-only record of a state change.
type AuditEvent struct {
	ID           string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	ActorHandle  string         `json:"actor_handle"`
	TargetHandle *string        `json:"target_handle,omitempty"`
	Details      map[string]any `json:"details"`
	Timestamp    time.Time      `json:"timestamp"`
}

// FieldChange records the before/after of one address book field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// SearchField selects which message fields a search covers.
type SearchField string

const (
	SearchBoth    SearchField = ""
	SearchSubject SearchField = "subject"
	SearchBody    SearchField = "body"
)

// MessageQueryOptions controls message listing.
type MessageQueryOptions struct {
	ThreadID string
	From     string
	To       string
	SinceID  string
	Limit    int
}

// MessageSearchOptions controls message search.
type MessageSearchOptions struct {
	Query  string
	Fields SearchField
	From   string
	To     string
	Limit  int
}

// ThreadQueryOptions controls thread listing.
type ThreadQueryOptions struct {
	Participant     string
	IncludeArchived bool
	Limit           int
}

// EntryQueryOptions controls address book listing and search.
type EntryQueryOptions struct {
	Query         string
	Tag           string
	HandlePattern string
	ActiveOnly    bool
	Limit         int
}

// EventQueryOptions controls audit log queries.
type EventQueryOptions struct {
	Actor     string
	Target    string
	EventType EventType
	Limit     int
}
