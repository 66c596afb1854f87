// Package access decides which threads and audit events a caller may read.
//
// Visibility is a pure function of the caller's handle and the caller's current
// address book entry. A Scope is resolved fresh for every operation and is never
// cached across identities, so tagging or untagging an admin takes effect on the
// next call.
package access

import (
	"fmt"

	"github.com/adamavenir/mailroom/internal/types"
)

// DefaultAdminTag is the address book tag that grants unrestricted read access.
const DefaultAdminTag = "admin"

// Scope is the read visibility of one caller.
type Scope struct {
	Handle string
	Admin  bool
}

// IsAdmin reports whether entry grants admin visibility. Inactive entries never do.
func IsAdmin(entry *types.AddressBookEntry, adminTag string) bool {
	if entry == nil || !entry.IsActive {
		return false
	}
	if adminTag == "" {
		adminTag = DefaultAdminTag
	}
	return entry.HasTag(adminTag)
}

// Resolve builds the scope for handle given its address book entry (nil if absent).
func Resolve(handle string, entry *types.AddressBookEntry, adminTag string) Scope {
	return Scope{Handle: handle, Admin: IsAdmin(entry, adminTag)}
}

// CanSeeThread reports whether the scope covers a thread with the given participants.
func (s Scope) CanSeeThread(participants []string) bool {
	if s.Admin {
		return true
	}
	for _, p := range participants {
		if p == s.Handle {
			return true
		}
	}
	return false
}

// ThreadClause returns a SQL predicate restricting rows of the threads table
// (aliased as alias) to those visible in the scope. Admin scopes return "".
func (s Scope) ThreadClause(alias string) (string, []any) {
	if s.Admin {
		return "", nil
	}
	clause := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(%s.participant_handles) p WHERE p.value = ?)",
		alias,
	)
	return clause, []any{s.Handle}
}

// EventClause returns a SQL predicate restricting audit_log rows (aliased as alias)
// to events the caller acted in, was targeted by, or that describe the shared
// address book. Admin scopes return "".
func (s Scope) EventClause(alias string) (string, []any) {
	if s.Admin {
		return "", nil
	}
	clause := fmt.Sprintf(
		"(%[1]s.actor_handle = ? OR %[1]s.target_handle = ? OR %[1]s.event_type IN (?, ?, ?))",
		alias,
	)
	return clause, []any{
		s.Handle,
		s.Handle,
		string(types.EventAddressBookAdd),
		string(types.EventAddressBookUpdate),
		string(types.EventAddressBookDeactivate),
	}
}

// CanChangeAdminTag reports whether the scope may grant or revoke the admin tag.
// While no active admin exists anyone may, so a fresh store can be bootstrapped.
func (s Scope) CanChangeAdminTag(activeAdmins int) bool {
	return s.Admin || activeAdmins == 0
}
