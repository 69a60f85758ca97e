package store

import (
	"context"
	"encoding/json"
	"time"

	"queueflow/internal/models"
)

type IssueTicketInput struct {
	RequestID     string
	BranchID      string
	ServiceID     string
	PriorityLevel int
	IssuedBy      string
	CreatedAt     time.Time
}

type ClaimNextInput struct {
	RequestID string
	BranchID  string
	CounterID string
	StaffID   string
	// AllowPaused lets an administrative override claim through a paused
	// counter; automatic call flows leave it false.
	AllowPaused bool
	CalledAt    time.Time
}

type TicketActionInput struct {
	RequestID  string
	BranchID   string
	TicketID   string
	CounterID  string
	StaffID    string
	OccurredAt time.Time
}

type TransferInput struct {
	RequestID     string
	BranchID      string
	TicketID      string
	ToCounterID   string
	Reason        string
	TransferredBy string
	OccurredAt    time.Time
}

type QueuePosition struct {
	TicketID             string  `json:"ticket_id"`
	TicketNumber         string  `json:"ticket_number"`
	Status               string  `json:"status"`
	Position             int     `json:"position"`
	AvgServiceSeconds    float64 `json:"avg_service_seconds"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
}

// TicketStore is the engine's persistence contract. Every mutating operation
// is atomic against the backing store and idempotent per RequestID: a replay
// returns the first outcome (created=false) without repeating side effects.
type TicketStore interface {
	IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, branchID, ticketID string) (models.Ticket, bool, error)
	ListWaiting(ctx context.Context, branchID, serviceID string) ([]models.Ticket, error)
	ClaimNext(ctx context.Context, input ClaimNextInput) (models.Ticket, bool, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	TransferTicket(ctx context.Context, input TransferInput) (models.Ticket, bool, error)
	GetActiveTicket(ctx context.Context, branchID, counterID string) (models.Ticket, bool, error)
	GetQueuePosition(ctx context.Context, branchID, ticketID string) (QueuePosition, error)
	ListOutboxEvents(ctx context.Context, branchID string, after time.Time, limit int) ([]OutboxEvent, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
	ListCounters(ctx context.Context, branchID string) ([]models.Counter, error)
	UpdateCounterStatus(ctx context.Context, branchID, counterID, status string) error
	ListServices(ctx context.Context, branchID string) ([]models.Service, error)
}

// OutboxEvent is the change record emitted after every successful mutation;
// delivery to display/staff subscribers is external to the engine.
type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	BranchID  string          `json:"branch_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
