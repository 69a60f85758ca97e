package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"queueflow/internal/models"
	"queueflow/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.TicketStore
}

func NewHandler(store store.TicketStore) *Handler {
	return &Handler{store: store}
}

type createTicketRequest struct {
	RequestID     string `json:"request_id"`
	BranchID      string `json:"branch_id"`
	ServiceID     string `json:"service_id"`
	PriorityLevel int    `json:"priority_level"`
	IssuedBy      string `json:"issued_by"`
}

type claimNextRequest struct {
	RequestID string `json:"request_id"`
	BranchID  string `json:"branch_id"`
	CounterID string `json:"counter_id"`
	StaffID   string `json:"staff_id"`
	Override  bool   `json:"override"`
}

type ticketActionRequest struct {
	RequestID string `json:"request_id"`
	BranchID  string `json:"branch_id"`
	CounterID string `json:"counter_id"`
	StaffID   string `json:"staff_id"`
	// NextRequestID asks the engine to claim the next ticket for the same
	// counter in the same call, so a counter never sits idle between the
	// terminal action and the follow-up claim.
	NextRequestID string `json:"next_request_id"`
}

type transferRequest struct {
	RequestID   string `json:"request_id"`
	BranchID    string `json:"branch_id"`
	ToCounterID string `json:"to_counter_id"`
	Reason      string `json:"reason"`
	StaffID     string `json:"staff_id"`
}

type counterStatusRequest struct {
	BranchID string `json:"branch_id"`
	Status   string `json:"status"`
}

type actionResponse struct {
	Ticket     models.Ticket  `json:"ticket"`
	NextTicket *models.Ticket `json:"next_ticket,omitempty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/actions/claim-next", h.handleClaimNext)
	mux.HandleFunc("/api/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubtree)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/position", h.handleQueuePosition)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterStatus)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.IssuedBy = strings.TrimSpace(req.IssuedBy)

	if req.RequestID == "" || req.BranchID == "" || req.ServiceID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, branch_id, and service_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.BranchID) || !isValidUUID(req.ServiceID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, branch_id, and service_id must be UUIDs")
		return
	}
	if req.PriorityLevel < models.PriorityRegular || req.PriorityLevel > models.PriorityEmergency {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "priority_level must be between 0 and 2")
		return
	}

	ticket, created, err := h.store.IssueTicket(r.Context(), store.IssueTicketInput{
		RequestID:     req.RequestID,
		BranchID:      req.BranchID,
		ServiceID:     req.ServiceID,
		PriorityLevel: req.PriorityLevel,
		IssuedBy:      req.IssuedBy,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ticket)
}

func (h *Handler) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req claimNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.CounterID = strings.TrimSpace(req.CounterID)
	req.StaffID = strings.TrimSpace(req.StaffID)

	if req.RequestID == "" || req.BranchID == "" || req.CounterID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, branch_id, and counter_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.BranchID) || !isValidUUID(req.CounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, branch_id, and counter_id must be UUIDs")
		return
	}

	ticket, _, err := h.store.ClaimNext(r.Context(), store.ClaimNextInput{
		RequestID:   req.RequestID,
		BranchID:    req.BranchID,
		CounterID:   req.CounterID,
		StaffID:     req.StaffID,
		AllowPaused: req.Override,
		CalledAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		h.handleTicketEvents(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if !isValidUUID(ticketID) || !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id and branch_id must be UUIDs")
		return
	}

	ticket, found, err := h.store.GetTicket(r.Context(), branchID, ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeError(w, "", http.StatusNotFound, "ticket_not_found", "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch action {
	case "complete":
		h.handleTerminalAction(w, r, ticketID, h.store.CompleteTicket)
	case "skip":
		h.handleTerminalAction(w, r, ticketID, h.store.SkipTicket)
	case "cancel":
		h.handleTerminalAction(w, r, ticketID, h.store.CancelTicket)
	case "transfer":
		h.handleTransferTicket(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type terminalActionFunc func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error)

func (h *Handler) handleTerminalAction(w http.ResponseWriter, r *http.Request, ticketID string, apply terminalActionFunc) {
	var req ticketActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.NextRequestID != "" {
		if !isValidUUID(req.NextRequestID) {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "next_request_id must be a UUID")
			return
		}
		if req.CounterID == "" {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "counter_id is required with next_request_id")
			return
		}
	}

	now := time.Now().UTC()
	ticket, _, err := apply(r.Context(), store.TicketActionInput{
		RequestID:  req.RequestID,
		BranchID:   req.BranchID,
		TicketID:   ticketID,
		CounterID:  req.CounterID,
		StaffID:    req.StaffID,
		OccurredAt: now,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	response := actionResponse{Ticket: ticket}
	if req.NextRequestID != "" {
		next, _, err := h.store.ClaimNext(r.Context(), store.ClaimNextInput{
			RequestID: req.NextRequestID,
			BranchID:  req.BranchID,
			CounterID: req.CounterID,
			StaffID:   req.StaffID,
			CalledAt:  now,
		})
		if err != nil && !errors.Is(err, store.ErrNoTicket) {
			status, code, msg := mapError(err)
			writeError(w, req.NextRequestID, status, code, msg)
			return
		}
		if err == nil {
			response.NextTicket = &next
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleTransferTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req transferRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ToCounterID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "to_counter_id is required")
		return
	}
	if !isValidUUID(req.ToCounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "to_counter_id must be a UUID")
		return
	}

	ticket, _, err := h.store.TransferTicket(r.Context(), store.TransferInput{
		RequestID:     req.RequestID,
		BranchID:      req.BranchID,
		TicketID:      ticketID,
		ToCounterID:   req.ToCounterID,
		Reason:        req.Reason,
		TransferredBy: req.StaffID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	counterID := strings.TrimSpace(r.URL.Query().Get("counter_id"))
	if !isValidUUID(branchID) || !isValidUUID(counterID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id and counter_id must be UUIDs")
		return
	}

	ticket, found, err := h.store.GetActiveTicket(r.Context(), branchID, counterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeError(w, "", http.StatusNotFound, "no_active_ticket", "counter has no active ticket")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}
	if serviceID != "" && !isValidUUID(serviceID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "service_id must be a UUID when provided")
		return
	}

	tickets, err := h.store.ListWaiting(r.Context(), branchID, serviceID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	ticketID := strings.TrimSpace(r.URL.Query().Get("ticket_id"))
	if !isValidUUID(branchID) || !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id and ticket_id must be UUIDs")
		return
	}

	position, err := h.store.GetQueuePosition(r.Context(), branchID, ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	counters, err := h.store.ListCounters(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) handleCounterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "status" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	counterID := parts[0]
	if !isValidUUID(counterID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter_id must be a UUID")
		return
	}

	var req counterStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.Status = strings.TrimSpace(req.Status)
	if !isValidUUID(req.BranchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}
	switch req.Status {
	case models.CounterActive, models.CounterPaused, models.CounterInactive:
	default:
		writeError(w, "", http.StatusBadRequest, "invalid_request", "status must be active, paused, or inactive")
		return
	}

	if err := h.store.UpdateCounterStatus(r.Context(), req.BranchID, counterID, req.Status); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	services, err := h.store.ListServices(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	after := time.Time{}
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be an RFC3339 timestamp")
			return
		}
		after = parsed
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), branchID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}

	switch t := target.(type) {
	case *ticketActionRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.BranchID = strings.TrimSpace(t.BranchID)
		t.CounterID = strings.TrimSpace(t.CounterID)
		t.StaffID = strings.TrimSpace(t.StaffID)
		t.NextRequestID = strings.TrimSpace(t.NextRequestID)
		if t.RequestID == "" || t.BranchID == "" {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "request_id and branch_id are required")
			return false
		}
		if !isValidUUID(t.RequestID) || !isValidUUID(t.BranchID) {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "request_id and branch_id must be UUIDs")
			return false
		}
		if t.CounterID != "" && !isValidUUID(t.CounterID) {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "counter_id must be a UUID when provided")
			return false
		}
	case *transferRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.BranchID = strings.TrimSpace(t.BranchID)
		t.ToCounterID = strings.TrimSpace(t.ToCounterID)
		t.Reason = strings.TrimSpace(t.Reason)
		t.StaffID = strings.TrimSpace(t.StaffID)
		if t.RequestID == "" || t.BranchID == "" {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "request_id and branch_id are required")
			return false
		}
		if !isValidUUID(t.RequestID) || !isValidUUID(t.BranchID) {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "request_id and branch_id must be UUIDs")
			return false
		}
	default:
		writeError(w, "", http.StatusBadRequest, "invalid_request", "invalid request payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	if value == "" {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no waiting ticket to claim"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "a concurrent action already changed this ticket"
	case errors.Is(err, store.ErrCounterInactive):
		return http.StatusConflict, "counter_inactive", "counter is not active"
	case errors.Is(err, store.ErrCounterPaused):
		return http.StatusConflict, "counter_paused", "counter is paused"
	case errors.Is(err, store.ErrCrossBranchTransfer):
		return http.StatusConflict, "cross_branch_transfer", "target counter belongs to a different branch"
	case errors.Is(err, store.ErrSameCounterTransfer):
		return http.StatusConflict, "same_counter_transfer", "ticket is already assigned to this counter"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
