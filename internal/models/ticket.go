package models

import "time"

// Ticket is the unit of work moving through the queue. Timestamps other than
// CreatedAt are set by lifecycle transitions and are nil until then.
type Ticket struct {
	TicketID      string     `json:"ticket_id"`
	TicketNumber  string     `json:"ticket_number"`
	BranchID      string     `json:"branch_id,omitempty"`
	ServiceID     string     `json:"service_id,omitempty"`
	PriorityLevel int        `json:"priority_level"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	RequestID     string     `json:"request_id"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CounterID     *string    `json:"counter_id,omitempty"`

	PreferredCounterID       *string    `json:"preferred_counter_id,omitempty"`
	TransferredFromCounterID *string    `json:"transferred_from_counter_id,omitempty"`
	TransferReason           string     `json:"transfer_reason,omitempty"`
	TransferredAt            *time.Time `json:"transferred_at,omitempty"`
	TransferredBy            string     `json:"transferred_by,omitempty"`

	IssuedBy string `json:"issued_by,omitempty"`
	ServedBy string `json:"served_by,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusDone      = "done"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// Priority levels; higher values are called first.
const (
	PriorityRegular   = 0
	PrioritySenior    = 1
	PriorityEmergency = 2
)
