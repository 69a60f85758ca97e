package queue

import (
	"testing"
	"time"

	"queueflow/internal/models"
)

func waitingTicket(id string, priority int, createdAt time.Time) models.Ticket {
	return models.Ticket{
		TicketID:      id,
		PriorityLevel: priority,
		Status:        models.StatusWaiting,
		CreatedAt:     createdAt,
	}
}

func TestSelectNextPriorityThenFIFO(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pool := []models.Ticket{
		waitingTicket("t0", models.PriorityRegular, base),
		waitingTicket("t1", models.PriorityRegular, base.Add(1*time.Minute)),
		waitingTicket("t2", models.PriorityEmergency, base.Add(2*time.Minute)),
		waitingTicket("t3", models.PrioritySenior, base.Add(3*time.Minute)),
	}

	want := []string{"t2", "t3", "t0", "t1"}
	for _, expected := range want {
		next, ok := SelectNext(pool)
		if !ok {
			t.Fatalf("expected a ticket, pool exhausted before %s", expected)
		}
		if next.TicketID != expected {
			t.Fatalf("expected %s next, got %s", expected, next.TicketID)
		}
		remaining := pool[:0]
		for _, ticket := range pool {
			if ticket.TicketID != next.TicketID {
				remaining = append(remaining, ticket)
			}
		}
		pool = remaining
	}

	if _, ok := SelectNext(pool); ok {
		t.Fatalf("expected empty pool")
	}
}

func TestSelectNextIgnoresNonWaiting(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	serving := waitingTicket("s", models.PriorityEmergency, base)
	serving.Status = models.StatusServing
	pool := []models.Ticket{
		serving,
		waitingTicket("w", models.PriorityRegular, base.Add(time.Minute)),
	}
	next, ok := SelectNext(pool)
	if !ok || next.TicketID != "w" {
		t.Fatalf("expected waiting ticket w, got %+v ok=%v", next, ok)
	}
}

func TestSelectNextEmpty(t *testing.T) {
	if _, ok := SelectNext(nil); ok {
		t.Fatalf("expected no ticket from empty set")
	}
}

func TestPosition(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pool := []models.Ticket{
		waitingTicket("a", models.PriorityRegular, base),
		waitingTicket("b", models.PriorityEmergency, base.Add(time.Minute)),
		waitingTicket("c", models.PriorityRegular, base.Add(2*time.Minute)),
	}

	if got := Position(pool, "b"); got != 1 {
		t.Fatalf("expected position 1 for b, got %d", got)
	}
	if got := Position(pool, "a"); got != 2 {
		t.Fatalf("expected position 2 for a, got %d", got)
	}
	if got := Position(pool, "c"); got != 3 {
		t.Fatalf("expected position 3 for c, got %d", got)
	}
	if got := Position(pool, "missing"); got != 0 {
		t.Fatalf("expected position 0 for unknown ticket, got %d", got)
	}
}

func TestEstimateWait(t *testing.T) {
	avg := 5 * time.Minute
	if got := EstimateWait(1, avg); got != 5*time.Minute {
		t.Fatalf("expected 5m for position 1, got %s", got)
	}
	if got := EstimateWait(4, avg); got != 20*time.Minute {
		t.Fatalf("expected 20m for position 4, got %s", got)
	}
	if got := EstimateWait(0, avg); got != 0 {
		t.Fatalf("expected 0 for position 0, got %s", got)
	}
	if got := EstimateWait(3, 0); got != 0 {
		t.Fatalf("expected 0 for zero average, got %s", got)
	}
}

func TestWaitTimeMonotonicWhileWaiting(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := waitingTicket("t", models.PriorityRegular, created)

	first := WaitTime(ticket, created.Add(30*time.Second))
	second := WaitTime(ticket, created.Add(2*time.Minute))
	if second < first {
		t.Fatalf("wait time decreased: %s then %s", first, second)
	}
}

func TestWaitTimeFrozenAfterClaim(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	started := created.Add(10 * time.Minute)
	ticket := waitingTicket("t", models.PriorityRegular, created)
	ticket.StartedAt = &started

	if got := WaitTime(ticket, started.Add(time.Hour)); got != 10*time.Minute {
		t.Fatalf("expected 10m wait, got %s", got)
	}
}

func TestServiceTime(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	ended := started.Add(7 * time.Minute)

	ticket := models.Ticket{StartedAt: &started, EndedAt: &ended}
	if got := ServiceTime(ticket); got != 7*time.Minute {
		t.Fatalf("expected 7m, got %s", got)
	}

	if got := ServiceTime(models.Ticket{StartedAt: &started}); got != 0 {
		t.Fatalf("expected 0 without ended_at, got %s", got)
	}
	if got := ServiceTime(models.Ticket{}); got != 0 {
		t.Fatalf("expected 0 without timestamps, got %s", got)
	}
}
