package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"queueflow/internal/models"
	"queueflow/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

const ticketColumns = `ticket_id, ticket_number, branch_id, service_id, priority_level, status, created_at,
	called_at, started_at, ended_at, counter_id, preferred_counter_id, transferred_from_counter_id,
	transfer_reason, transferred_at, transferred_by, issued_by, served_by`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	prefix, err := lookupServicePrefix(ctx, tx, input.ServiceID, input.BranchID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	issuedOn := createdAt.UTC().Truncate(24 * time.Hour)

	seq, err := allocateSequence(ctx, tx, input.BranchID, input.ServiceID, issuedOn)
	if err != nil {
		return models.Ticket{}, false, err
	}
	number := formatTicketNumber(prefix, seq)

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, ticket_number, branch_id, service_id,
			priority_level, status, issued_on, created_at, issued_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), input.RequestID, number, input.BranchID, input.ServiceID,
		input.PriorityLevel, models.StatusWaiting, issuedOn, createdAt, nullIfEmpty(input.IssuedBy))

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the insert race to an identical request; return its result.
			var replay models.Ticket
			replay, found, err = findTicketByRequestID(ctx, tx, input.RequestID)
			if err != nil {
				return models.Ticket{}, false, err
			}
			if !found {
				err = store.ErrTicketNotFound
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return replay, false, nil
		}
		if isUniqueViolation(err) {
			err = store.ErrDuplicateNumber
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket, nil); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// ClaimNext selects the ordering-policy winner and moves it to serving in one
// statement, so two concurrent counters can never receive the same ticket.
func (s *Store) ClaimNext(ctx context.Context, input store.ClaimNextInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "claim_next", input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrNoTicket
		}
		return existing, false, nil
	}

	counterStatus, err := getCounterStatus(ctx, tx, input.CounterID, input.BranchID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	switch counterStatus {
	case models.CounterInactive:
		err = store.ErrCounterInactive
		return models.Ticket{}, false, err
	case models.CounterPaused:
		if !input.AllowPaused {
			err = store.ErrCounterPaused
			return models.Ticket{}, false, err
		}
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE branch_id = $1 AND status = 'waiting'
			ORDER BY priority_level DESC, created_at ASC, ticket_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = 'serving',
			counter_id = $2,
			called_at = $3,
			started_at = $3
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+prefixColumns("tickets")+`
	`, input.BranchID, input.CounterID, calledAt)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = insertActionRequest(ctx, tx, "claim_next", input.RequestID, input.BranchID, input.CounterID, ""); err != nil {
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return models.Ticket{}, false, store.ErrNoTicket
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, "claim_next", input.RequestID, input.BranchID, input.CounterID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, "ticket.called", ticket, map[string]interface{}{
		"staff_id": input.StaffID,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTerminal(ctx, input, "complete", models.StatusDone, "ticket.done")
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTerminal(ctx, input, "skip", models.StatusSkipped, "ticket.skipped")
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTerminal(ctx, input, "cancel", models.StatusCancelled, "ticket.cancelled")
}

// applyTerminal is the shared serving->terminal transition: a conditional
// update keyed on the expected source status, so of two racing actors exactly
// one commits and the loser gets a conflict.
func (s *Store) applyTerminal(ctx context.Context, input store.TicketActionInput, action, toStatus, eventType string) (models.Ticket, bool, error) {
	if !store.ValidTransition(action, models.StatusServing) {
		return models.Ticket{}, false, store.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, action, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrConflict
		}
		return existing, false, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		UPDATE tickets
		SET status = $1,
			ended_at = $2,
			served_by = $3
		WHERE ticket_id = $4 AND branch_id = $5 AND status = 'serving'
	`
	args := []interface{}{toStatus, occurredAt, nullIfEmpty(input.StaffID), input.TicketID, input.BranchID}
	if input.CounterID != "" {
		query += " AND counter_id = $6"
		args = append(args, input.CounterID)
	}
	query += " RETURNING " + ticketColumns

	row := tx.QueryRow(ctx, query, args...)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyTransitionFailure(ctx, tx, input)
			return models.Ticket{}, false, err
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, action, input.RequestID, input.BranchID, input.CounterID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, eventType, ticket, nil); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// classifyTransitionFailure distinguishes "retry cannot help" from "someone
// else got there first" after a conditional update touched no row.
func (s *Store) classifyTransitionFailure(ctx context.Context, tx pgx.Tx, input store.TicketActionInput) error {
	status, exists, err := loadTicketState(ctx, tx, input.TicketID, input.BranchID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrTicketNotFound
	}
	if store.IsTerminal(status) {
		return store.ErrInvalidTransition
	}
	return store.ErrConflict
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "transfer", input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrConflict
		}
		return existing, false, nil
	}

	// Lock the ticket row so validation and the update see one state.
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1 AND branch_id = $2
		FOR UPDATE
	`, input.TicketID, input.BranchID)
	current, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, false, err
	}

	if !store.ValidTransition("transfer", current.Status) {
		err = store.ErrInvalidTransition
		return models.Ticket{}, false, err
	}
	if current.CounterID != nil && *current.CounterID == input.ToCounterID {
		err = store.ErrSameCounterTransfer
		return models.Ticket{}, false, err
	}

	var targetBranch, targetStatus string
	counterRow := tx.QueryRow(ctx, `
		SELECT branch_id, status
		FROM counters
		WHERE counter_id = $1
	`, input.ToCounterID)
	if err = counterRow.Scan(&targetBranch, &targetStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCounterNotFound
		}
		return models.Ticket{}, false, err
	}
	if targetBranch != current.BranchID {
		err = store.ErrCrossBranchTransfer
		return models.Ticket{}, false, err
	}
	if targetStatus != models.CounterActive {
		err = store.ErrCounterInactive
		return models.Ticket{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// A serving ticket returns to the pool as a fresh attempt: timing reset,
	// counter_id left in place until the destination claims it.
	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET preferred_counter_id = $1,
			transferred_from_counter_id = counter_id,
			transfer_reason = $2,
			transferred_at = $3,
			transferred_by = $4,
			status = CASE WHEN status = 'serving' THEN 'waiting' ELSE status END,
			called_at = CASE WHEN status = 'serving' THEN NULL ELSE called_at END,
			started_at = CASE WHEN status = 'serving' THEN NULL ELSE started_at END
		WHERE ticket_id = $5
		RETURNING `+ticketColumns+`
	`, input.ToCounterID, nullIfEmpty(input.Reason), occurredAt, nullIfEmpty(input.TransferredBy), input.TicketID)

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, "transfer", input.RequestID, input.BranchID, input.ToCounterID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, "ticket.transferred", ticket, map[string]interface{}{
		"to_counter_id": input.ToCounterID,
		"reason":        input.Reason,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) UpdateCounterStatus(ctx context.Context, branchID, counterID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE counters
		SET status = $1
		WHERE counter_id = $2 AND branch_id = $3
	`, status, counterID, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func lookupServicePrefix(ctx context.Context, tx pgx.Tx, serviceID, branchID string) (string, error) {
	var prefix string
	row := tx.QueryRow(ctx, `
		SELECT prefix
		FROM services
		WHERE service_id = $1 AND branch_id = $2 AND active = TRUE
	`, serviceID, branchID)
	if err := row.Scan(&prefix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrServiceNotFound
		}
		return "", err
	}
	return prefix, nil
}

// allocateSequence is a single increment-and-read; the per-day key makes the
// sequence restart at 1 on the first issuance of each day.
func allocateSequence(ctx context.Context, tx pgx.Tx, branchID, serviceID string, seqDate time.Time) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (branch_id, service_id, seq_date, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (branch_id, service_id, seq_date)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, branchID, serviceID, seqDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func formatTicketNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, ticketNumberPad, seq)
}

func getCounterStatus(ctx context.Context, tx pgx.Tx, counterID, branchID string) (string, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM counters
		WHERE counter_id = $1 AND branch_id = $2
	`, counterID, branchID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrCounterNotFound
		}
		return "", err
	}
	return status, nil
}

func loadTicketState(ctx context.Context, tx pgx.Tx, ticketID, branchID string) (string, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM tickets
		WHERE ticket_id = $1 AND branch_id = $2
	`, ticketID, branchID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = requestID
	return ticket, true, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Ticket, bool, bool, error) {
	var ticketID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM ticket_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, false, nil
		}
		return models.Ticket{}, false, false, err
	}

	if !ticketID.Valid {
		return models.Ticket{}, true, true, nil
	}

	row = tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID.String)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, false, err
	}
	ticket.RequestID = requestID
	return ticket, true, false, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, branchID, counterID, ticketID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_action_requests (request_id, action, branch_id, counter_id, ticket_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, branchID, nullIfEmpty(counterID), nullIfEmpty(ticketID))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
