package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// EDIT WINDOW POLICY
// =============================================================================

// DefaultEditWindowDays is the business-day window authors get to change
// their own reports.
const DefaultEditWindowDays = 3

// WithinBusinessDays reports whether no more than n business days have
// elapsed since createdAt.
func WithinBusinessDays(cal BusinessCalendar, createdAt, now time.Time, n int) bool {
	return BusinessDaysElapsed(cal, createdAt, now) <= n
}

// CanModify is the edit gate:
//
//	privileged                                   -> always
//	(author OR admin) AND within the edit window -> allowed
//	everyone else                                -> denied
func CanModify(actor Actor, a Activity, d Descriptor, cal BusinessCalendar, now time.Time) bool {
	return AuthorizeEdit(actor, a, d, cal, now) == nil
}

// AuthorizeEdit returns an *AuthorizationError explaining a denied edit.
func AuthorizeEdit(actor Actor, a Activity, d Descriptor, cal BusinessCalendar, now time.Time) error {
	if actor.Role == RolePrivileged {
		return nil
	}
	if actor.ID != a.CreatedBy && actor.Role != RoleAdmin {
		return &AuthorizationError{ActorID: actor.ID, ActivityID: a.ID, Reason: "only the author or an admin may change this report"}
	}
	if !WithinBusinessDays(cal, a.CreatedAt, now, d.EditWindowDays) {
		return &AuthorizationError{
			ActorID:    actor.ID,
			ActivityID: a.ID,
			Reason:     fmt.Sprintf("edit window of %d business days has expired", d.EditWindowDays),
		}
	}
	return nil
}

// AuthorizeDelete applies the edit gate plus the per-type privileged rule.
func AuthorizeDelete(actor Actor, a Activity, d Descriptor, cal BusinessCalendar, now time.Time) error {
	if d.DeleteRequiresPrivileged && actor.Role != RolePrivileged {
		return &AuthorizationError{ActorID: actor.ID, ActivityID: a.ID, Reason: fmt.Sprintf("%s reports may only be deleted by a privileged user", d.Type)}
	}
	return AuthorizeEdit(actor, a, d, cal, now)
}
