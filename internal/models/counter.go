package models

// Counter is a staffed service point. StaffID is the operator currently
// logged into it, if any.
type Counter struct {
	CounterID string  `json:"counter_id"`
	BranchID  string  `json:"branch_id"`
	Name      string  `json:"name"`
	StaffID   *string `json:"staff_id,omitempty"`
	Status    string  `json:"status"`
}

const (
	CounterActive   = "active"
	CounterPaused   = "paused"
	CounterInactive = "inactive"
)
