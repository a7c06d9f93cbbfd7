package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

const (
	testSecret = "handler-secret"
	// A Monday far enough ahead that the past-slot filter never applies.
	testDate = "2030-01-07"
)

func newTestRouter(t *testing.T) (http.Handler, *BookingHandler) {
	t.Helper()
	mem := storage.NewMemory()
	cat := catalog.NewStatic().AddService("svc-1", 60).Link("prov-1", "svc-1")
	windows := availability.NewStore(mem, cat)
	svc := booking.New(windows, ledger.New(mem, cat, windows), cat, booking.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	h := NewBookingHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Routes(r, Options{Verifier: httpx.Verifier{Secret: testSecret}})
	return r, h
}

func token(t *testing.T, sub, role, providerID string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:        sub,
		Role:       role,
		ProviderID: providerID,
		Iat:        time.Now().Unix(),
		Exp:        time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			rdr = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestBookingFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	provider := token(t, "user-p", auth.RoleProvider, "prov-1")
	client := token(t, "client-1", auth.RoleClient, "")

	rec := do(t, router, http.MethodPost, "/api/v1/windows", provider, map[string]any{
		"day_of_week": "MONDAY", "start_time": "09:00", "end_time": "12:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add window: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date="+testDate+"&step_minutes=60", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("slots: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var slots []map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(slots) != 3 || slots[0]["start_time"] != "09:00" || slots[0]["end_time"] != "10:00" {
		t.Fatalf("unexpected slots %v", slots)
	}

	rec = do(t, router, http.MethodPost, "/api/v1/appointments", client, map[string]any{
		"provider_id": "prov-1", "service_id": "svc-1", "date": testDate, "start_time": "10:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appt map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}
	if appt["date"] != testDate || appt["start_time"] != "10:00" || appt["end_time"] != "11:00" || appt["status"] != "PENDING" || appt["client_id"] != "client-1" {
		t.Fatalf("unexpected appointment %v", appt)
	}
	id, _ := appt["id"].(string)

	rec = do(t, router, http.MethodPost, "/api/v1/appointments", client, map[string]any{
		"provider_id": "prov-1", "service_id": "svc-1", "date": testDate, "start_time": "10:30", "duration_minutes": 30,
	})
	if rec.Code != http.StatusConflict || decodeError(t, rec).Error != "slot_unavailable" {
		t.Fatalf("overlap: expected 409 slot_unavailable, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPatch, "/api/v1/appointments/"+id+"/status", client, map[string]string{"action": "confirm"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("client confirm: expected 403, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodPatch, "/api/v1/appointments/"+id+"/status", provider, map[string]string{"action": "confirm"})
	if rec.Code != http.StatusOK {
		t.Fatalf("provider confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPatch, "/api/v1/appointments/"+id, provider, map[string]string{"start_time": "11:00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/appointments", client, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list mine: expected 200, got %d", rec.Code)
	}
	var mine []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&mine); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(mine) != 1 || mine[0]["start_time"] != "11:00" || mine[0]["status"] != "PENDING" {
		t.Fatalf("unexpected list %v", mine)
	}

	rec = do(t, router, http.MethodPatch, "/api/v1/appointments/"+id+"/status", client, map[string]string{"action": "cancel"})
	if rec.Code != http.StatusOK {
		t.Fatalf("client cancel: expected 200, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodPatch, "/api/v1/appointments/"+id+"/status", client, map[string]string{"action": "cancel"})
	if rec.Code != http.StatusConflict || decodeError(t, rec).Error != "invalid_transition" {
		t.Fatalf("second cancel: expected 409 invalid_transition, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	router, _ := newTestRouter(t)
	provider := token(t, "user-p", auth.RoleProvider, "prov-1")
	client := token(t, "client-1", auth.RoleClient, "")

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		status int
		kind   string
	}{
		{"no token", http.MethodPost, "/api/v1/appointments", "", map[string]string{}, http.StatusUnauthorized, ""},
		{"bad json", http.MethodPost, "/api/v1/appointments", client, "{", http.StatusBadRequest, "invalid_input"},
		{"bad date", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date=07/01/2030", "", nil, http.StatusBadRequest, "invalid_input"},
		{"bad step", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date=" + testDate + "&step_minutes=x", "", nil, http.StatusBadRequest, "invalid_input"},
		{"huge duration", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date=" + testDate + "&duration_minutes=9223372036854775807", "", nil, http.StatusBadRequest, "invalid_input"},
		{"duration over a day", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date=" + testDate + "&duration_minutes=1441", "", nil, http.StatusBadRequest, "invalid_input"},
		{"huge step", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-1&date=" + testDate + "&step_minutes=9223372036854775807", "", nil, http.StatusBadRequest, "invalid_input"},
		{"book huge duration", http.MethodPost, "/api/v1/appointments", client, map[string]any{"provider_id": "prov-1", "service_id": "svc-1", "date": testDate, "start_time": "10:00", "duration_minutes": int64(math.MaxInt64)}, http.StatusBadRequest, "invalid_input"},
		{"reschedule huge duration", http.MethodPatch, "/api/v1/appointments/missing", provider, map[string]any{"duration_minutes": int64(math.MaxInt64)}, http.StatusBadRequest, "invalid_input"},
		{"not offered", http.MethodGet, "/api/v1/slots?provider_id=prov-1&service_id=svc-2&date=" + testDate, "", nil, http.StatusUnprocessableEntity, "service_not_offered"},
		{"outside availability", http.MethodPost, "/api/v1/appointments", client, map[string]any{"provider_id": "prov-1", "service_id": "svc-1", "date": testDate, "start_time": "09:00"}, http.StatusUnprocessableEntity, "outside_availability"},
		{"inverted window", http.MethodPost, "/api/v1/windows", provider, map[string]any{"day_of_week": "TUESDAY", "start_time": "12:00", "end_time": "09:00"}, http.StatusBadRequest, "invalid_range"},
		{"client adds window", http.MethodPost, "/api/v1/windows", client, map[string]any{"day_of_week": "TUESDAY", "start_time": "09:00", "end_time": "12:00"}, http.StatusForbidden, "forbidden"},
		{"unknown appointment", http.MethodGet, "/api/v1/appointments/missing", client, nil, http.StatusNotFound, "not_found"},
		{"unknown action", http.MethodPatch, "/api/v1/appointments/missing/status", provider, map[string]string{"action": "approve"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, tc.tok, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.kind != "" {
				if got := decodeError(t, rec).Error; got != tc.kind {
					t.Fatalf("expected kind %s, got %s", tc.kind, got)
				}
			}
		})
	}
}

func TestInfrastructureErrorIsUnavailable(t *testing.T) {
	_, h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil), errors.New("connection refused"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "unavailable" || resp.Message == "connection refused" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestListWindowsIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	provider := token(t, "user-p", auth.RoleProvider, "prov-1")
	rec := do(t, router, http.MethodPost, "/api/v1/windows", provider, map[string]any{
		"day_of_week": "FRIDAY", "start_time": "13:00", "end_time": "17:00", "service_id": "svc-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add window: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/providers/prov-1/windows", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var windows []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&windows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(windows) != 1 || windows[0]["day_of_week"] != "FRIDAY" || windows[0]["service_id"] != "svc-1" {
		t.Fatalf("unexpected windows %v", windows)
	}
}
