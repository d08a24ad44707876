// Package guard gates navigation to role-scoped areas from the current
// session state. Pure derived logic: no owned state, no side effects,
// safe to re-evaluate on every poll.
package guard

import (
	"github.com/authgate/client/internal/model"
	"github.com/authgate/client/internal/session"
)

// Decision is the outcome of a navigation check.
type Decision int

const (
	// Wait means the session is still resolving; render a neutral
	// pending view and decide nothing yet.
	Wait Decision = iota
	// Admit lets the navigation proceed.
	Admit
	// RedirectHome sends the user back to the public entry point.
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Admit:
		return "admit"
	case RedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decide gates navigation on the session state. requiredRole may be empty
// for areas that only need an authenticated user of any role.
func Decide(state session.State, requiredRole model.Role) Decision {
	switch state.Status {
	case session.Loading:
		return Wait
	case session.Authenticated:
		if requiredRole != "" && state.Identity.Role != requiredRole {
			return RedirectHome
		}
		return Admit
	default:
		return RedirectHome
	}
}
