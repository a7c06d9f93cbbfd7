// Package booking is the authoritative entry point for slot queries, bookings
// and appointment changes. It resolves defaults, authorizes the caller and
// re-validates availability before anything reaches the ledger.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const (
	DefaultStepMinutes     = 30
	DefaultDurationMinutes = 60
)

type Config struct {
	StepMinutes            int
	DefaultDurationMinutes int
	// Location decides what "today" is for the past-slot filter.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.StepMinutes <= 0 {
		c.StepMinutes = DefaultStepMinutes
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = DefaultDurationMinutes
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type Service struct {
	windows *availability.Store
	ledger  *ledger.Ledger
	catalog catalog.Catalog
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.BookingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

func New(windows *availability.Store, l *ledger.Ledger, cat catalog.Catalog, cfg Config, logger *slog.Logger, m *metrics.BookingMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		windows: windows,
		ledger:  l,
		catalog: cat,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		tracer:  otelx.Tracer("booking-service/booking"),
		now:     time.Now,
	}
}

// resolveDuration prefers the requested duration, then the service's
// canonical one, then the configured default.
func (s *Service) resolveDuration(ctx context.Context, serviceID string, requested int) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: duration must be positive", model.ErrInvalidInput)
	}
	duration := requested
	if duration == 0 {
		minutes, ok, err := s.catalog.ServiceDuration(ctx, serviceID)
		if err != nil {
			return 0, err
		}
		duration = s.cfg.DefaultDurationMinutes
		if ok {
			duration = minutes
		}
	}
	if duration > model.MinutesPerDay {
		return 0, fmt.Errorf("%w: duration of %d minutes exceeds one day", model.ErrInvalidInput, duration)
	}
	return duration, nil
}

func (s *Service) requireOffered(ctx context.Context, providerID, serviceID string) error {
	offered, err := catalog.Offers(ctx, s.catalog, providerID, serviceID)
	if err != nil {
		return err
	}
	if !offered {
		return fmt.Errorf("%w: provider %s does not offer service %s", model.ErrServiceNotOffered, providerID, serviceID)
	}
	return nil
}

// today returns the current date and time of day in the configured location.
func (s *Service) today() (time.Time, model.Clock) {
	now := s.now().In(s.cfg.Location)
	return model.DateOf(now), model.ClockOf(now)
}

type SlotQuery struct {
	ProviderID      string
	ServiceID       string
	Date            time.Time
	DurationMinutes int
	StepMinutes     int
}

type Slot struct {
	Start model.Clock `json:"start_time"`
	End   model.Clock `json:"end_time"`
}

// Slots lists bookable starts for the query, ascending. The result is advisory;
// Book re-validates.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (slots []Slot, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "booking.slots", trace.WithAttributes(
		attribute.String("provider_id", q.ProviderID),
		attribute.String("service_id", q.ServiceID),
	))
	defer func() {
		s.metrics.ObserveSlotQuery(s.now().Sub(started).Seconds(), len(slots), err)
		endSpan(span, err)
	}()

	q.ProviderID, q.ServiceID = strings.TrimSpace(q.ProviderID), strings.TrimSpace(q.ServiceID)
	if q.ProviderID == "" || q.ServiceID == "" || q.Date.IsZero() {
		return nil, fmt.Errorf("%w: provider_id, service_id and date are required", model.ErrInvalidInput)
	}
	if q.StepMinutes < 0 || q.StepMinutes > model.MinutesPerDay {
		return nil, fmt.Errorf("%w: step must be between 1 and %d minutes", model.ErrInvalidInput, model.MinutesPerDay)
	}
	step := q.StepMinutes
	if step == 0 {
		step = s.cfg.StepMinutes
	}
	date := model.DateOf(q.Date)

	if err := s.requireOffered(ctx, q.ProviderID, q.ServiceID); err != nil {
		return nil, err
	}
	duration, err := s.resolveDuration(ctx, q.ServiceID, q.DurationMinutes)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("duration_minutes", duration), attribute.Int("step_minutes", step))

	cutoff := availability.NoCutoff
	today, nowClock := s.today()
	switch {
	case date.Before(today):
		return []Slot{}, nil
	case date.Equal(today):
		cutoff = nowClock
	}

	covered, err := s.windows.CoveredIntervals(ctx, q.ProviderID, date, q.ServiceID)
	if err != nil {
		return nil, err
	}
	busy, err := s.ledger.ActiveIntervals(ctx, q.ProviderID, date)
	if err != nil {
		return nil, err
	}

	starts := availability.AvailableSlots(covered, busy, duration, step, cutoff)
	slots = make([]Slot, 0, len(starts))
	for _, t := range starts {
		slots = append(slots, Slot{Start: t, End: t.Add(duration)})
	}
	return slots, nil
}

type BookRequest struct {
	ProviderID string
	// ClientID is honoured for admins only; clients always book for themselves.
	ClientID        string
	ServiceID       string
	Date            time.Time
	Start           model.Clock
	DurationMinutes int
}

// Book turns a slot selection into a PENDING appointment. Service linkage and
// availability are checked against current data; the overlap check and insert
// are atomic per provider and date.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("actor_role", actor.Role),
	))
	defer func() {
		s.metrics.ObserveBooking(err)
		endSpan(span, err)
	}()

	clientID, err := actor.bookingClient(req.ClientID)
	if err != nil {
		return model.Appointment{}, err
	}
	req.ProviderID, req.ServiceID = strings.TrimSpace(req.ProviderID), strings.TrimSpace(req.ServiceID)
	if req.ProviderID == "" || req.ServiceID == "" || req.Date.IsZero() {
		return model.Appointment{}, fmt.Errorf("%w: provider_id, service_id and date are required", model.ErrInvalidInput)
	}
	date := model.DateOf(req.Date)

	if err := s.requireOffered(ctx, req.ProviderID, req.ServiceID); err != nil {
		return model.Appointment{}, err
	}
	duration, err := s.resolveDuration(ctx, req.ServiceID, req.DurationMinutes)
	if err != nil {
		return model.Appointment{}, err
	}
	if !req.Start.FitsDay(duration) {
		return model.Appointment{}, fmt.Errorf("%w: %s plus %d minutes does not fit in one day", model.ErrInvalidInput, req.Start, duration)
	}
	iv := model.Interval{Start: req.Start, End: req.Start.Add(duration)}
	if err := s.requireFuture(date, req.Start); err != nil {
		return model.Appointment{}, err
	}

	covered, err := s.windows.CoveredIntervals(ctx, req.ProviderID, date, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !availability.Fits(covered, iv) {
		return model.Appointment{}, fmt.Errorf("%w: %s %s is outside the provider's availability", model.ErrOutsideAvailability, model.FormatDate(date), iv)
	}

	appt, err = s.ledger.Insert(ctx, ledger.Request{
		ProviderID:      req.ProviderID,
		ClientID:        clientID,
		ServiceID:       req.ServiceID,
		Date:            date,
		Start:           req.Start,
		DurationMinutes: duration,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))
	s.logger.InfoContext(ctx, "appointment booked",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"date", model.FormatDate(appt.Date),
		"start", appt.Start.String(),
		"duration_minutes", appt.DurationMinutes,
	)
	return appt, nil
}

func (s *Service) requireFuture(date time.Time, start model.Clock) error {
	today, nowClock := s.today()
	if date.Before(today) || (date.Equal(today) && start <= nowClock) {
		return fmt.Errorf("%w: %s %s is in the past", model.ErrOutsideAvailability, model.FormatDate(date), start)
	}
	return nil
}

// Transition confirms, refuses or cancels an appointment.
func (s *Service) Transition(ctx context.Context, actor Actor, id string, action model.Action) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.transition", trace.WithAttributes(
		attribute.String("appointment_id", id),
		attribute.String("action", string(action)),
	))
	defer func() {
		s.metrics.ObserveTransition(string(action), err)
		endSpan(span, err)
	}()

	guard := actor.canManage
	if action == model.ActionCancel {
		guard = actor.canCancel
	}
	appt, err = s.ledger.Transition(ctx, id, action, guard)
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.InfoContext(ctx, "appointment status changed", "appointment_id", appt.ID, "status", appt.Status, "actor_id", actor.UserID)
	return appt, nil
}

type RescheduleRequest struct {
	Date            *time.Time
	Start           *model.Clock
	ServiceID       string
	DurationMinutes int
}

// Reschedule moves an active appointment; only its provider or an admin may.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id string, req RescheduleRequest) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.reschedule", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer func() {
		s.metrics.ObserveTransition("reschedule", err)
		endSpan(span, err)
	}()

	if req.Date == nil && req.Start == nil && strings.TrimSpace(req.ServiceID) == "" && req.DurationMinutes == 0 {
		return model.Appointment{}, fmt.Errorf("%w: nothing to change", model.ErrInvalidInput)
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > model.MinutesPerDay {
		return model.Appointment{}, fmt.Errorf("%w: duration must be between 1 and %d minutes", model.ErrInvalidInput, model.MinutesPerDay)
	}
	change := ledger.Change{Date: req.Date, Start: req.Start, ServiceID: strings.TrimSpace(req.ServiceID), DurationMinutes: req.DurationMinutes}
	if change.ServiceID != "" && change.DurationMinutes == 0 {
		if change.DurationMinutes, err = s.resolveDuration(ctx, change.ServiceID, 0); err != nil {
			return model.Appointment{}, err
		}
	}

	guard := func(cur model.Appointment) error {
		if err := actor.canManage(cur); err != nil {
			return err
		}
		date, start := cur.Date, cur.Start
		if req.Date != nil {
			date = model.DateOf(*req.Date)
		}
		if req.Start != nil {
			start = *req.Start
		}
		return s.requireFuture(date, start)
	}
	appt, err = s.ledger.Reschedule(ctx, id, change, guard)
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.InfoContext(ctx, "appointment rescheduled",
		"appointment_id", appt.ID,
		"date", model.FormatDate(appt.Date),
		"start", appt.Start.String(),
		"actor_id", actor.UserID,
	)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (model.Appointment, error) {
	return s.ledger.Get(ctx, id, actor.canView)
}

func (s *Service) ListByProvider(ctx context.Context, actor Actor, providerID string, date *time.Time) ([]model.Appointment, error) {
	if !actor.IsAdmin() && !actor.ownsProvider(providerID) {
		return nil, fmt.Errorf("%w: appointments of provider %s", model.ErrForbidden, providerID)
	}
	return s.ledger.ListByProvider(ctx, providerID, date)
}

func (s *Service) ListByClient(ctx context.Context, actor Actor, clientID string) ([]model.Appointment, error) {
	if !actor.IsAdmin() && actor.UserID != clientID {
		return nil, fmt.Errorf("%w: appointments of client %s", model.ErrForbidden, clientID)
	}
	return s.ledger.ListByClient(ctx, clientID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !model.IsDomainError(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
