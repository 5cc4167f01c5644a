package decision

import (
	"github.com/bowerhall/nudge/internal/profile"
)

// Check is a rule-based precondition for sending a notification type. It
// returns false with a reason to block the notification outright.
type Check func(p *profile.Profile) (bool, string)

func requireActiveGoal(p *profile.Profile) (bool, string) {
	if p == nil || !p.HasActiveGoal {
		return false, "user has no active goal"
	}
	return true, ""
}

// DefaultChecks are the built-in admissibility rules. Types without an entry
// are always admissible.
func DefaultChecks() map[string]Check {
	return map[string]Check{
		"exercise": requireActiveGoal,
		"weight":   requireActiveGoal,
	}
}
