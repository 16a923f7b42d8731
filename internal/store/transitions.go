package store

import "qms/walkin-queue/internal/models"

const (
	ActionClaim     = "claim"
	ActionComplete  = "complete"
	ActionSkip      = "skip"
	ActionReconcile = "reconcile"
)

// SERVED and SKIPPED never appear as a source state.
var transitionMap = map[string][]string{
	ActionClaim:     {models.StatusWaiting},
	ActionComplete:  {models.StatusNowServing},
	ActionSkip:      {models.StatusWaiting, models.StatusNowServing},
	ActionReconcile: {models.StatusNowServing},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range AllowedFrom(action) {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses an action may start from. Backends build
// their conditional-update predicates from it.
func AllowedFrom(action string) []string {
	allowed := transitionMap[action]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}
