package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// BookingMetrics exposes counters/histograms for slot queries and bookings.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	slotQueryLatency *prometheus.HistogramVec
	slotsReturned    prometheus.Histogram
}

func New(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status changes and reschedules by action and outcome",
		}, []string{"action", "outcome"}),
		slotQueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "slot_query_seconds",
			Help:      "Latency of available-slot queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "slots_returned",
			Help:      "Number of slots returned per successful query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.slotQueryLatency, m.slotsReturned)
	return m
}

func (m *BookingMetrics) ObserveBooking(err error) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(Outcome(err)).Inc()
}

func (m *BookingMetrics) ObserveTransition(action string, err error) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, Outcome(err)).Inc()
}

func (m *BookingMetrics) ObserveSlotQuery(seconds float64, slots int, err error) {
	if m == nil {
		return
	}
	m.slotQueryLatency.WithLabelValues(Outcome(err)).Observe(seconds)
	if err == nil {
		m.slotsReturned.Observe(float64(slots))
	}
}

// Outcome is a low-cardinality label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, model.ErrOutsideAvailability):
		return "outside_availability"
	case errors.Is(err, model.ErrServiceNotOffered):
		return "service_not_offered"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
