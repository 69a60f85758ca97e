package store

import "queueflow/internal/models"

var transitionMap = map[string][]string{
	"claim_next": {models.StatusWaiting},
	"complete":   {models.StatusServing},
	"skip":       {models.StatusServing},
	"cancel":     {models.StatusServing},
	"transfer":   {models.StatusWaiting, models.StatusServing},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func IsTerminal(status string) bool {
	switch status {
	case models.StatusDone, models.StatusSkipped, models.StatusCancelled:
		return true
	default:
		return false
	}
}
