// Package queue holds the pure ordering and timing rules for the waiting
// pool. The Postgres store embeds the same ordering in its claim statement so
// that selection and claim happen atomically; this package is the in-memory
// reference used for read paths and position math.
package queue

import (
	"sort"
	"time"

	"queueflow/internal/models"
)

// Less reports whether a should be called before b: higher priority first,
// then oldest first.
func Less(a, b models.Ticket) bool {
	if a.PriorityLevel != b.PriorityLevel {
		return a.PriorityLevel > b.PriorityLevel
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Order returns the waiting tickets sorted into calling order. The input
// slice is not modified.
func Order(tickets []models.Ticket) []models.Ticket {
	sorted := make([]models.Ticket, len(tickets))
	copy(sorted, tickets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})
	return sorted
}

// SelectNext returns the ticket the ordering policy would serve next, or
// false if the eligible set is empty.
func SelectNext(tickets []models.Ticket) (models.Ticket, bool) {
	var best models.Ticket
	found := false
	for _, ticket := range tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if !found || Less(ticket, best) {
			best = ticket
			found = true
		}
	}
	return best, found
}

// Position returns the 1-based place of ticketID in calling order among the
// given waiting tickets, or 0 if the ticket is not in the set. Position 1
// means the ticket is called next.
func Position(tickets []models.Ticket, ticketID string) int {
	ordered := Order(tickets)
	for i, ticket := range ordered {
		if ticket.TicketID == ticketID {
			return i + 1
		}
	}
	return 0
}

// EstimateWait applies the position * average model. Priority is already
// reflected in the position, so no further weighting happens here.
func EstimateWait(position int, avgService time.Duration) time.Duration {
	if position <= 0 || avgService <= 0 {
		return 0
	}
	return time.Duration(position) * avgService
}

// WaitTime is how long the ticket has waited (or waited before being
// claimed). For a ticket still waiting it grows with now.
func WaitTime(ticket models.Ticket, now time.Time) time.Duration {
	end := now
	if ticket.StartedAt != nil {
		end = *ticket.StartedAt
	}
	if end.Before(ticket.CreatedAt) {
		return 0
	}
	return end.Sub(ticket.CreatedAt)
}

// ServiceTime is the duration of the completed service attempt, zero unless
// both endpoints are recorded.
func ServiceTime(ticket models.Ticket) time.Duration {
	if ticket.StartedAt == nil || ticket.EndedAt == nil {
		return 0
	}
	if ticket.EndedAt.Before(*ticket.StartedAt) {
		return 0
	}
	return ticket.EndedAt.Sub(*ticket.StartedAt)
}
