package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"queueflow/internal/models"
	"queueflow/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// insertOutboxEvent records the mutation for subscribers and appends the same
// payload to the ticket's hash chain, all inside the mutation's transaction.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"ticket_id":      ticket.TicketID,
		"ticket_number":  ticket.TicketNumber,
		"branch_id":      ticket.BranchID,
		"service_id":     ticket.ServiceID,
		"priority_level": ticket.PriorityLevel,
		"status":         ticket.Status,
		"created_at":     ticket.CreatedAt,
	}
	if ticket.CalledAt != nil {
		payload["called_at"] = ticket.CalledAt
	}
	if ticket.StartedAt != nil {
		payload["started_at"] = ticket.StartedAt
	}
	if ticket.EndedAt != nil {
		payload["ended_at"] = ticket.EndedAt
	}
	if ticket.CounterID != nil {
		payload["counter_id"] = ticket.CounterID
	}
	if ticket.ServedBy != "" {
		payload["served_by"] = ticket.ServedBy
	}
	for key, value := range extra {
		if value == "" || value == nil {
			continue
		}
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	createdAt := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, branch_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), ticket.BranchID, eventType, raw, createdAt)
	if err != nil {
		return err
	}
	return appendTicketEvent(ctx, tx, ticket.TicketID, eventType, raw, createdAt)
}

// appendTicketEvent serializes chain writers per ticket with an advisory lock
// so ticket_seq and prev_hash never fork.
func appendTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload json.RawMessage, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var seq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	if err := row.Scan(&seq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	seq++

	hash := store.ComputeTicketEventHash(prevHash.String, ticketID, eventType, payload, createdAt, seq)
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, event_type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, seq, eventType, payload, createdAt, nullIfEmpty(prevHash.String), hash)
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, branchID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, branch_id, event_type, payload, created_at
		FROM outbox_events
		WHERE branch_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3
	`, branchID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.OutboxEvent{}
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.BranchID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, event_type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.TicketEvent{}
	for rows.Next() {
		var event store.TicketEvent
		var prevHash sql.NullString
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &event.Payload, &event.CreatedAt, &prevHash, &event.Hash); err != nil {
			return nil, err
		}
		if prevHash.Valid {
			event.PrevHash = prevHash.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
