package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"queueflow/internal/models"
	"queueflow/internal/queue"
	"queueflow/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetTicket(ctx context.Context, branchID, ticketID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1 AND branch_id = $2
	`, ticketID, branchID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListWaiting(ctx context.Context, branchID, serviceID string) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE branch_id = $1 AND status = 'waiting'
	`
	args := []interface{}{branchID}
	if serviceID != "" {
		query += " AND service_id = $2"
		args = append(args, serviceID)
	}
	query += " ORDER BY priority_level DESC, created_at ASC, ticket_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (s *Store) GetActiveTicket(ctx context.Context, branchID, counterID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE branch_id = $1 AND counter_id = $2 AND status = 'serving'
		ORDER BY called_at DESC NULLS LAST
		LIMIT 1
	`, branchID, counterID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// GetQueuePosition counts strictly-ahead waiting tickets under the branch-wide
// ordering and multiplies by the observed service rate. The estimate reuses
// today's completed tickets for the same service and falls back to the
// configured per-service average when none exist yet.
func (s *Store) GetQueuePosition(ctx context.Context, branchID, ticketID string) (store.QueuePosition, error) {
	ticket, found, err := s.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return store.QueuePosition{}, err
	}
	if !found {
		return store.QueuePosition{}, store.ErrTicketNotFound
	}

	result := store.QueuePosition{
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		Status:       ticket.Status,
	}
	if ticket.Status != models.StatusWaiting {
		return result, nil
	}

	var ahead int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE branch_id = $1 AND status = 'waiting'
		  AND (priority_level > $2
			OR (priority_level = $2 AND created_at < $3)
			OR (priority_level = $2 AND created_at = $3 AND ticket_id < $4))
	`, branchID, ticket.PriorityLevel, ticket.CreatedAt, ticket.TicketID)
	if err := row.Scan(&ahead); err != nil {
		return store.QueuePosition{}, err
	}
	result.Position = ahead + 1

	var observed sql.NullFloat64
	row = s.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (ended_at - started_at)))
		FROM tickets
		WHERE branch_id = $1 AND service_id = $2 AND status = 'done'
		  AND started_at IS NOT NULL AND ended_at IS NOT NULL
		  AND ended_at >= date_trunc('day', now())
	`, branchID, ticket.ServiceID)
	if err := row.Scan(&observed); err != nil {
		return store.QueuePosition{}, err
	}
	if observed.Valid && observed.Float64 > 0 {
		result.AvgServiceSeconds = observed.Float64
	} else {
		var configured sql.NullFloat64
		row = s.pool.QueryRow(ctx, `
			SELECT avg_service_seconds
			FROM services
			WHERE service_id = $1 AND branch_id = $2
		`, ticket.ServiceID, branchID)
		if err := row.Scan(&configured); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return store.QueuePosition{}, err
		}
		if configured.Valid {
			result.AvgServiceSeconds = configured.Float64
		}
	}
	avg := time.Duration(result.AvgServiceSeconds * float64(time.Second))
	result.EstimatedWaitSeconds = queue.EstimateWait(result.Position, avg).Seconds()
	return result, nil
}

func (s *Store) ListCounters(ctx context.Context, branchID string) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counter_id, branch_id, name, staff_id, status
		FROM counters
		WHERE branch_id = $1
		ORDER BY name ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counters := []models.Counter{}
	for rows.Next() {
		var counter models.Counter
		var staffID sql.NullString
		if err := rows.Scan(&counter.CounterID, &counter.BranchID, &counter.Name, &staffID, &counter.Status); err != nil {
			return nil, err
		}
		if staffID.Valid {
			counter.StaffID = &staffID.String
		}
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}

func (s *Store) ListServices(ctx context.Context, branchID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, branch_id, name, prefix, avg_service_seconds, active
		FROM services
		WHERE branch_id = $1
		ORDER BY name ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := []models.Service{}
	for rows.Next() {
		var service models.Service
		if err := rows.Scan(&service.ServiceID, &service.BranchID, &service.Name, &service.Prefix,
			&service.AvgServiceSeconds, &service.Active); err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

func prefixColumns(table string) string {
	parts := strings.Split(ticketColumns, ",")
	for i, part := range parts {
		parts[i] = table + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAt, startedAt, endedAt, transferredAt sql.NullTime
	var counterID, preferredCounterID, transferredFrom sql.NullString
	var transferReason, transferredBy, issuedBy, servedBy sql.NullString

	err := row.Scan(
		&ticket.TicketID, &ticket.TicketNumber, &ticket.BranchID, &ticket.ServiceID,
		&ticket.PriorityLevel, &ticket.Status, &ticket.CreatedAt,
		&calledAt, &startedAt, &endedAt,
		&counterID, &preferredCounterID, &transferredFrom,
		&transferReason, &transferredAt, &transferredBy, &issuedBy, &servedBy,
	)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket.CalledAt = timePtr(calledAt)
	ticket.StartedAt = timePtr(startedAt)
	ticket.EndedAt = timePtr(endedAt)
	ticket.TransferredAt = timePtr(transferredAt)
	ticket.CounterID = stringPtr(counterID)
	ticket.PreferredCounterID = stringPtr(preferredCounterID)
	ticket.TransferredFromCounterID = stringPtr(transferredFrom)
	if transferReason.Valid {
		ticket.TransferReason = transferReason.String
	}
	if transferredBy.Valid {
		ticket.TransferredBy = transferredBy.String
	}
	if issuedBy.Valid {
		ticket.IssuedBy = issuedBy.String
	}
	if servedBy.Valid {
		ticket.ServedBy = servedBy.String
	}
	return ticket, nil
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
