package store

import (
	"encoding/json"
	"testing"
	"time"
)

func chainEvent(t *testing.T, prev *TicketEvent, ticketID, eventType string, payload map[string]interface{}, at time.Time) TicketEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	return TicketEvent{
		TicketID:  ticketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: at,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticketID, eventType, raw, at, seq),
	}
}

func TestVerifyTicketEvents(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	first := chainEvent(t, nil, "ticket-1", "ticket.created", map[string]interface{}{
		"ticket_id": "ticket-1",
		"status":    "waiting",
	}, at)
	second := chainEvent(t, &first, "ticket-1", "ticket.called", map[string]interface{}{
		"ticket_id": "ticket-1",
		"status":    "serving",
	}, at.Add(time.Minute))

	if err := VerifyTicketEvents([]TicketEvent{first, second}); err != nil {
		t.Fatalf("expected valid chain: %v", err)
	}

	tampered := second
	tampered.Payload = json.RawMessage(`{"ticket_id":"ticket-1","status":"done"}`)
	if err := VerifyTicketEvents([]TicketEvent{first, tampered}); err == nil {
		t.Fatalf("expected tampered chain to fail verification")
	}
}

func TestRehydrateTicket(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	called := created.Add(5 * time.Minute)
	counter := "counter-1"

	first := chainEvent(t, nil, "ticket-1", "ticket.created", map[string]interface{}{
		"ticket_id":      "ticket-1",
		"ticket_number":  "BP001",
		"status":         "waiting",
		"branch_id":      "branch-1",
		"service_id":     "service-1",
		"priority_level": 2,
		"created_at":     created,
	}, created)
	second := chainEvent(t, &first, "ticket-1", "ticket.called", map[string]interface{}{
		"ticket_id":  "ticket-1",
		"status":     "serving",
		"called_at":  called,
		"started_at": called,
		"counter_id": counter,
	}, called)

	ticket, err := RehydrateTicket([]TicketEvent{first, second})
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if ticket.TicketNumber != "BP001" || ticket.Status != "serving" || ticket.PriorityLevel != 2 {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if ticket.CounterID == nil || *ticket.CounterID != counter {
		t.Fatalf("expected counter %s, got %+v", counter, ticket.CounterID)
	}
	if ticket.StartedAt == nil || !ticket.StartedAt.Equal(called) {
		t.Fatalf("expected started_at %s, got %+v", called, ticket.StartedAt)
	}
}
