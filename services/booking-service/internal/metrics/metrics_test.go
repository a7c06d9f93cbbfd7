package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveBooking(nil)
	m.ObserveBooking(fmt.Errorf("%w: taken", model.ErrSlotUnavailable))
	m.ObserveBooking(fmt.Errorf("%w: taken", model.ErrSlotUnavailable))
	m.ObserveTransition("confirm", nil)
	m.ObserveSlotQuery(0.01, 4, nil)

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_unavailable")); got != 2 {
		t.Fatalf("expected 2 conflicts, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("confirm", "ok")); got != 1 {
		t.Fatalf("expected 1 confirm, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking(nil)
	m.ObserveTransition("cancel", nil)
	m.ObserveSlotQuery(0.1, 0, nil)
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":                   nil,
		"outside_availability": model.ErrOutsideAvailability,
		"invalid":              model.ErrInvalidRange,
		"error":                model.Infra(errors.New("boom")),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %s, want %s", err, got, want)
		}
	}
}
