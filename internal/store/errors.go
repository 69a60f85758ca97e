package store

import "errors"

var (
	ErrBranchNotFound  = errors.New("branch not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrCounterNotFound = errors.New("counter not found")

	// ErrNoTicket is the empty-queue outcome of a claim, not a failure.
	ErrNoTicket = errors.New("no ticket available")

	// ErrConflict means the ticket's state changed under a concurrent actor;
	// the caller should re-read and decide whether to retry.
	ErrConflict = errors.New("ticket state changed concurrently")

	// ErrInvalidTransition means the ticket is terminal or the requested
	// transition is not in the lifecycle graph; retrying cannot succeed.
	ErrInvalidTransition = errors.New("invalid ticket transition")

	ErrCounterInactive     = errors.New("counter inactive")
	ErrCounterPaused       = errors.New("counter paused")
	ErrCrossBranchTransfer = errors.New("transfer target in different branch")
	ErrSameCounterTransfer = errors.New("transfer target is current counter")

	// ErrDuplicateNumber indicates the allocator's atomicity was violated;
	// structurally impossible and treated as fatal by callers.
	ErrDuplicateNumber = errors.New("duplicate ticket number")
)
