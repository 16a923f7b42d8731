package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
)

// Queue is the service surface the handlers drive.
type Queue interface {
	IssueQueueNumber(ctx context.Context) (string, error)
	SubmitEntry(ctx context.Context, input queue.SubmitInput) (models.QueueEntry, error)
	ListCandidates(ctx context.Context, staffID string) (queue.CandidateView, error)
	Claim(ctx context.Context, staffID, entryID string) (models.QueueEntry, error)
	Complete(ctx context.Context, staffID, entryID string) (models.ServingLog, error)
	Skip(ctx context.Context, staffID, entryID string) (models.QueueEntry, error)
	AssignWindow(ctx context.Context, staffID, windowID string) (models.Window, error)
	StatusByNumber(ctx context.Context, queueNumber string) (models.EntryStatus, error)
	Summary(ctx context.Context) (models.QueueSummary, error)
	ListCategories(ctx context.Context) ([]models.CategoryTree, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

type Handler struct {
	queue    Queue
	sessions SessionStore
	monitor  http.Handler
	now      func() time.Time
}

type Options struct {
	// Monitor serves the live feed under /monitor/ when set.
	Monitor http.Handler
	Now     func() time.Time
}

type createEntryRequest struct {
	ClientName     string   `json:"client_name"`
	ClientType     string   `json:"client_type"`
	CategoryIDs    []string `json:"category_ids"`
	SubCategoryIDs []string `json:"sub_category_ids"`
}

type assignWindowRequest struct {
	WindowID string `json:"window_id"`
}

type queueNumberResponse struct {
	QueueNumber string `json:"queue_number"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q Queue, sessions SessionStore, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		queue:    q,
		sessions: sessions,
		monitor:  options.Monitor,
		now:      now,
	}
}

// Routes returns the full HTTP surface with session auth applied to staff
// endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/categories", h.handleCategories)
	mux.HandleFunc("/api/entries", h.handleEntries)
	mux.HandleFunc("/api/entries/status", h.handleEntryStatus)
	mux.HandleFunc("/api/entries/", h.handleEntryActions)
	mux.HandleFunc("/api/queue/summary", h.handleSummary)
	mux.HandleFunc("/api/queue/numbers", h.handleIssueNumber)
	mux.HandleFunc("/api/staff/queue", h.handleStaffQueue)
	mux.HandleFunc("/api/staff/window", h.handleStaffWindow)
	if h.monitor != nil {
		mux.Handle("/monitor/", h.monitor)
	}
	return AuthMiddleware(h.sessions, h.now, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	categories, err := h.queue.ListCategories(r.Context())
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createEntryRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry, err := h.queue.SubmitEntry(r.Context(), queue.SubmitInput{
		ClientName:     req.ClientName,
		ClientType:     req.ClientType,
		CategoryIDs:    req.CategoryIDs,
		SubCategoryIDs: req.SubCategoryIDs,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleEntryStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queueNumber := strings.TrimSpace(r.URL.Query().Get("queue_number"))
	if queueNumber == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_number is required")
		return
	}
	status, err := h.queue.StatusByNumber(r.Context(), queueNumber)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEntryActions serves POST /api/entries/{id}/actions/{claim|complete|skip}.
func (h *Handler) handleEntryActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entryID, action := parts[0], parts[2]
	if !isValidUUID(entryID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "entry id must be a UUID")
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	switch action {
	case "claim":
		entry, err := h.queue.Claim(r.Context(), session.StaffID, entryID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "complete":
		servingLog, err := h.queue.Complete(r.Context(), session.StaffID, entryID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, servingLog)
	case "skip":
		entry, err := h.queue.Skip(r.Context(), session.StaffID, entryID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.queue.Summary(r.Context())
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleIssueNumber hands out a bare number for paper tickets printed at the desk.
func (h *Handler) handleIssueNumber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	number, err := h.queue.IssueQueueNumber(r.Context())
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueNumberResponse{QueueNumber: number})
}

func (h *Handler) handleStaffQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	view, err := h.queue.ListCandidates(r.Context(), session.StaffID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStaffWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	var req assignWindowRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.WindowID = strings.TrimSpace(req.WindowID)
	if req.WindowID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "window_id is required")
		return
	}
	window, err := h.queue.AssignWindow(r.Context(), session.StaffID, req.WindowID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrClaimConflict):
		return http.StatusConflict, "claim_conflict", "entry was already claimed, refresh the queue"
	case errors.Is(err, store.ErrNoActiveWindow):
		return http.StatusConflict, "no_active_window", "assign yourself to a window first"
	case errors.Is(err, store.ErrAlreadySkipped):
		return http.StatusConflict, "already_skipped", "entry was already skipped"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "entry state does not allow this action"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrWindowNotFound):
		return http.StatusNotFound, "window_not_found", "window not found"
	case errors.Is(err, store.ErrTransientStore):
		return http.StatusServiceUnavailable, "store_unavailable", "store is busy, try again"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		logError(r, err)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
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
