package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type BookingHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger) *BookingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandler{svc: svc, logger: logger}
}

// Options configures the authenticated part of the router.
type Options struct {
	Verifier httpx.Verifier
	// BookLimit throttles appointment creation per caller when set.
	BookLimit         *httpx.RedisRateLimiter
	BookLimitFailOpen bool
	// MaxBodyBytes caps JSON request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

// Routes mounts the REST API on r. Slot queries and opening hours are public;
// everything else needs a bearer token.
func (h *BookingHandler) Routes(r chi.Router, opts Options) {
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.WithBodyLimit(limit))
		r.Get("/slots", h.Slots)
		r.Get("/providers/{providerID}/windows", h.ListWindows)

		r.Group(func(r chi.Router) {
			r.Use(httpx.WithIdentity(opts.Verifier))
			if opts.BookLimit != nil {
				r.With(opts.BookLimit.Middleware(h.logger, opts.BookLimitFailOpen)).Post("/appointments", h.Book)
			} else {
				r.Post("/appointments", h.Book)
			}
			r.Get("/appointments", h.ListAppointments)
			r.Get("/appointments/{id}", h.GetAppointment)
			r.Patch("/appointments/{id}", h.Reschedule)
			r.Patch("/appointments/{id}/status", h.Transition)

			r.Post("/windows", h.AddWindow)
			r.Put("/windows/{id}", h.UpdateWindow)
			r.Delete("/windows/{id}", h.RemoveWindow)
		})
	})
}

type appointmentResponse struct {
	model.Appointment
	Date    string      `json:"date"`
	EndTime model.Clock `json:"end_time"`
}

func toResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{Appointment: a, Date: model.FormatDate(a.Date), EndTime: a.End()}
}

func toResponses(appts []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toResponse(a))
	}
	return out
}

type bookRequest struct {
	ProviderID      string      `json:"provider_id"`
	ClientID        string      `json:"client_id"`
	ServiceID       string      `json:"service_id"`
	Date            string      `json:"date"`
	StartTime       model.Clock `json:"start_time"`
	DurationMinutes int         `json:"duration_minutes"`
}

type statusRequest struct {
	Action string `json:"action"`
}

type rescheduleRequest struct {
	Date            *string      `json:"date"`
	StartTime       *model.Clock `json:"start_time"`
	ServiceID       string       `json:"service_id"`
	DurationMinutes int          `json:"duration_minutes"`
}

type windowRequest struct {
	ProviderID string        `json:"provider_id"`
	Day        model.Weekday `json:"day_of_week"`
	StartTime  model.Clock   `json:"start_time"`
	EndTime    model.Clock   `json:"end_time"`
	ServiceID  string        `json:"service_id"`
}

func (req windowRequest) input() availability.WindowInput {
	return availability.WindowInput{Day: req.Day, Start: req.StartTime, End: req.EndTime, ServiceID: strings.TrimSpace(req.ServiceID)}
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := model.ParseDate(q.Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	duration, err := optionalInt(q.Get("duration_minutes"), "duration_minutes")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	step, err := optionalInt(q.Get("step_minutes"), "step_minutes")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	slots, err := h.svc.Slots(r.Context(), booking.SlotQuery{
		ProviderID:      q.Get("provider_id"),
		ServiceID:       q.Get("service_id"),
		Date:            date,
		DurationMinutes: duration,
		StepMinutes:     step,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	appt, err := h.svc.Book(r.Context(), actor, booking.BookRequest{
		ProviderID:      req.ProviderID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		Date:            date,
		Start:           req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	action, err := model.ParseAction(req.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.svc.Transition(r.Context(), actor, chi.URLParam(r, "id"), action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	change := booking.RescheduleRequest{Start: req.StartTime, ServiceID: req.ServiceID, DurationMinutes: req.DurationMinutes}
	if req.Date != nil {
		date, err := model.ParseDate(*req.Date)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		change.Date = &date
	}
	appt, err := h.svc.Reschedule(r.Context(), actor, chi.URLParam(r, "id"), change)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// ListAppointments filters by provider_id (optionally with date) or client_id.
// Without either, providers see their own book and clients their own bookings.
func (h *BookingHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	clientID := strings.TrimSpace(q.Get("client_id"))
	if providerID == "" && clientID == "" {
		switch actor.Role {
		case auth.RoleProvider:
			providerID = actor.ProviderID
			if providerID == "" {
				providerID = actor.UserID
			}
		case auth.RoleClient:
			clientID = actor.UserID
		default:
			writeProblem(w, http.StatusBadRequest, "invalid_input", "provider_id or client_id is required")
			return
		}
	}

	var (
		appts []model.Appointment
		err   error
	)
	if providerID != "" {
		var date *time.Time
		if raw := strings.TrimSpace(q.Get("date")); raw != "" {
			d, perr := model.ParseDate(raw)
			if perr != nil {
				h.writeError(w, r, perr)
				return
			}
			date = &d
		}
		appts, err = h.svc.ListByProvider(r.Context(), actor, providerID, date)
	} else {
		appts, err = h.svc.ListByClient(r.Context(), actor, clientID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(appts))
}

func (h *BookingHandler) AddWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req windowRequest
	if !h.decode(w, r, &req) {
		return
	}
	win, err := h.svc.AddWindow(r.Context(), actor, req.ProviderID, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (h *BookingHandler) UpdateWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req windowRequest
	if !h.decode(w, r, &req) {
		return
	}
	win, err := h.svc.UpdateWindow(r.Context(), actor, chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (h *BookingHandler) RemoveWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.svc.RemoveWindow(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.svc.ListWindows(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	id, ok := httpx.IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return booking.Actor{}, false
	}
	return booking.Actor{UserID: id.UserID, Role: id.Role, ProviderID: id.ProviderID}, true
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "invalid_input", "request body too large")
			return false
		}
		writeProblem(w, http.StatusBadRequest, "invalid_input", "invalid json body: "+err.Error())
		return false
	}
	return true
}

func optionalInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > model.MinutesPerDay {
		return 0, fmt.Errorf("%w: %s must be between 1 and %d", model.ErrInvalidInput, name, model.MinutesPerDay)
	}
	return n, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{model.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{model.ErrForbidden, http.StatusForbidden, "forbidden"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{model.ErrServiceNotOffered, http.StatusUnprocessableEntity, "service_not_offered"},
	{model.ErrOutsideAvailability, http.StatusUnprocessableEntity, "outside_availability"},
}

// writeError maps domain errors to their status; anything else is an
// infrastructure failure and its detail stays in the log.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeProblem(w, k.status, k.kind, err.Error())
			return
		}
	}
	h.logger.ErrorContext(r.Context(), "request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	writeProblem(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later")
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
