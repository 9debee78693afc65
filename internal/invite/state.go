package invite

import (
	"fmt"
	"slices"

	"github.com/checkloops/checkloops/internal/staff"
)

// transitions lists the allowed status changes. Every status not listed as a key is terminal.
var transitions = map[staff.InviteStatus][]staff.InviteStatus{
	staff.InviteStatusPending: {
		staff.InviteStatusAccepted,
		staff.InviteStatusExpired,
		staff.InviteStatusRevoked,
		staff.InviteStatusCancelled,
	},
}

// CanTransition reports whether an invite may move from one status to another.
func CanTransition(from, to staff.InviteStatus) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no further status change is possible.
func IsTerminal(s staff.InviteStatus) bool {
	return len(transitions[s]) == 0
}

func checkTransition(from, to staff.InviteStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
