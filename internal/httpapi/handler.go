package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/lifecycle"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/reconcile"
	"qms/frontdesk-service/internal/store"
)

const (
	viewLive  = "live"
	viewAdmin = "admin"
)

// FrontDesk is the lifecycle surface the handlers drive.
type FrontDesk interface {
	Book(ctx context.Context, actor audit.Actor, in lifecycle.AppointmentInput) (models.Appointment, error)
	CheckIn(ctx context.Context, actor audit.Actor, criteria lifecycle.CheckInCriteria) (lifecycle.Admission, error)
	RegisterWalkin(ctx context.Context, actor audit.Actor, in lifecycle.WalkinInput) (lifecycle.Admission, error)
	MarkMissed(ctx context.Context, actor audit.Actor, appointmentID string) error
	Cancel(ctx context.Context, actor audit.Actor, appointmentID, reason string) error
	Reschedule(ctx context.Context, actor audit.Actor, appointmentID, newDate string) error
	LiveQueue(ctx context.Context, date string) ([]models.QueueEntry, error)
	AdminQueue(ctx context.Context, date string) ([]models.QueueEntry, error)
	CallNext(ctx context.Context, actor audit.Actor, date string) (models.QueueEntry, error)
	AdvanceStatus(ctx context.Context, actor audit.Actor, date, entryID, status string) (models.QueueEntry, error)
	SetPriority(ctx context.Context, actor audit.Actor, date, entryID, flag string) error
}

type Reconciler interface {
	Sweep(ctx context.Context, trigger string) (reconcile.Result, error)
}

type Handler struct {
	desk       FrontDesk
	staff      StaffDirectory
	reconciler Reconciler
	limiter    *RateLimiter
}

type Options struct {
	BookingLimiter *RateLimiter
}

type actionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	PreferredDate string `json:"preferred_date"`
}

type callNextRequest struct {
	Date string `json:"date"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type priorityRequest struct {
	PriorityFlag string `json:"priority_flag"`
}

func NewHandler(desk FrontDesk, staff StaffDirectory, reconciler Reconciler, options Options) *Handler {
	return &Handler{
		desk:       desk,
		staff:      staff,
		reconciler: reconciler,
		limiter:    options.BookingLimiter,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/api/appointments", h.limiter.Middleware(http.HandlerFunc(h.handleAppointments)))
	mux.HandleFunc("/api/appointments/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/appointments/", h.handleAppointmentActions)
	mux.HandleFunc("/api/walkins", h.handleWalkins)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/", h.handleQueueEntryActions)
	mux.HandleFunc("/api/reconcile/run", h.handleReconcile)
	return AuthMiddleware(h.staff, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req lifecycle.AppointmentInput
	if !decodeJSON(w, r, &req, false) {
		return
	}

	name := strings.TrimSpace(req.BookedByName)
	if name == "" {
		name = strings.TrimSpace(req.FullName)
	}
	appt, err := h.desk.Book(r.Context(), actorFromRequest(r, name), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, actionResponse{Success: true, Message: "Appointment booked", Data: appt})
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req lifecycle.CheckInCriteria
	if !decodeJSON(w, r, &req, false) {
		return
	}
	adm, err := h.desk.CheckIn(r.Context(), actorFromRequest(r, ""), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: fmt.Sprintf("Checked in with queue number %s", adm.QueueNumber),
		Data:    adm,
	})
}

func (h *Handler) handleAppointmentActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/appointments/"))
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown appointment action")
		return
	}
	appointmentID, action := parts[0], parts[1]
	actor := actorFromRequest(r, "")

	switch action {
	case "missed":
		if err := h.desk.MarkMissed(r.Context(), actor, appointmentID); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Appointment marked as missed"})
	case "cancel":
		var req cancelRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		if err := h.desk.Cancel(r.Context(), actor, appointmentID, req.Reason); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Appointment cancelled"})
	case "reschedule":
		var req rescheduleRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if err := h.desk.Reschedule(r.Context(), actor, appointmentID, req.PreferredDate); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Appointment rescheduled"})
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown appointment action")
	}
}

func (h *Handler) handleWalkins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req lifecycle.WalkinInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	adm, err := h.desk.RegisterWalkin(r.Context(), actorFromRequest(r, ""), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, actionResponse{
		Success: true,
		Message: fmt.Sprintf("Walk-in registered with queue number %s", adm.QueueNumber),
		Data:    adm,
	})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	view := strings.TrimSpace(r.URL.Query().Get("view"))

	var (
		entries []models.QueueEntry
		err     error
	)
	switch view {
	case "", viewLive:
		entries, err = h.desk.LiveQueue(r.Context(), date)
	case viewAdmin:
		if !requireStaff(w, r) {
			return
		}
		entries, err = h.desk.AdminQueue(r.Context(), date)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "view must be live or admin")
		return
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Data: entries})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req callNextRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	entry, err := h.desk.CallNext(r.Context(), actorFromRequest(r, ""), strings.TrimSpace(req.Date))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: fmt.Sprintf("Now serving %s", entry.QueueNumber),
		Data:    entry,
	})
}

func (h *Handler) handleQueueEntryActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/queue/"))
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not_found", "unknown queue action")
		return
	}
	date, entryID, action := parts[0], parts[1], parts[2]
	actor := actorFromRequest(r, "")

	switch action {
	case "status":
		var req statusRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		entry, err := h.desk.AdvanceStatus(r.Context(), actor, date, entryID, strings.TrimSpace(req.Status))
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{
			Success: true,
			Message: fmt.Sprintf("Queue %s is %s", entry.QueueNumber, entry.Status),
			Data:    entry,
		})
	case "priority":
		if !requireAdmin(w, r) {
			return
		}
		var req priorityRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if err := h.desk.SetPriority(r.Context(), actor, date, entryID, strings.TrimSpace(req.PriorityFlag)); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Priority updated"})
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown queue action")
	}
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	result, err := h.reconciler.Sweep(r.Context(), reconcile.TriggerManual)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: result.Message, Data: result})
}

func splitPath(rest string) []string {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, "/")
	for _, part := range parts {
		if part == "" {
			return nil
		}
	}
	return parts
}

// decodeJSON rejects unknown fields. With allowEmpty an empty body leaves
// target untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_failed", verr.Error()
	case errors.Is(err, store.ErrAmbiguousMatch):
		return http.StatusNotFound, "ambiguous_match", "several appointments match; provide appointment_id"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	resp := errorResponse{Success: false, Code: code, Error: message}
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Success: false, Code: code, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
