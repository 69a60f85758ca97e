package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"queueflow/internal/models"
)

// TicketEvent is one link of a ticket's hash-chained audit trail. The chain
// makes after-the-fact edits to a ticket's history detectable.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID      string     `json:"ticket_id"`
	TicketNumber  string     `json:"ticket_number"`
	Status        string     `json:"status"`
	BranchID      string     `json:"branch_id"`
	ServiceID     string     `json:"service_id"`
	PriorityLevel *int       `json:"priority_level"`
	CreatedAt     *time.Time `json:"created_at"`
	CalledAt      *time.Time `json:"called_at"`
	StartedAt     *time.Time `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	CounterID     *string    `json:"counter_id"`
	ToCounterID   string     `json:"to_counter_id"`
	ServedBy      string     `json:"served_by"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents walks the chain and reports the first broken link, if
// any. Events must be in ticket_seq order.
func VerifyTicketEvents(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		expected := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != expected {
			return fmt.Errorf("ticket event chain broken at seq %d (index %d)", event.TicketSeq, i)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateTicket folds an event trail back into the latest ticket view.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.TicketNumber != "" {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.BranchID != "" {
			ticket.BranchID = payload.BranchID
		}
		if payload.ServiceID != "" {
			ticket.ServiceID = payload.ServiceID
		}
		if payload.PriorityLevel != nil {
			ticket.PriorityLevel = *payload.PriorityLevel
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		ticket.CalledAt = payload.CalledAt
		ticket.StartedAt = payload.StartedAt
		if payload.EndedAt != nil {
			ticket.EndedAt = payload.EndedAt
		}
		if payload.CounterID != nil {
			ticket.CounterID = payload.CounterID
		}
		if payload.ServedBy != "" {
			ticket.ServedBy = payload.ServedBy
		}
	}
	return ticket, nil
}
