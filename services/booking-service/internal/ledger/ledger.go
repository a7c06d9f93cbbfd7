// Package ledger owns appointment records and their lifecycle. For a single
// provider and date, at most one active appointment covers any minute.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Store persists appointments.
//
// Insert and Move call check with the provider's other active appointments on
// the target date and write only if check returns nil; the read, the check
// and the write happen under one per-(provider, date) critical section.
// Update runs fn as an atomic read-modify-write of a single appointment.
type Store interface {
	Insert(ctx context.Context, appt model.Appointment, check func(active []model.Appointment) error) error
	Update(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error)
	Move(ctx context.Context, id string, plan func(model.Appointment) (model.Appointment, error), check func(active []model.Appointment) error) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListActive(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error)
	ListByProvider(ctx context.Context, providerID string, date *time.Time) ([]model.Appointment, error)
	ListByClient(ctx context.Context, clientID string) ([]model.Appointment, error)
}

type Coverage interface {
	CoveredIntervals(ctx context.Context, providerID string, date time.Time, serviceID string) ([]model.Interval, error)
}

// Guard authorizes an operation against the current state of an appointment.
type Guard func(model.Appointment) error

type Ledger struct {
	store    Store
	catalog  catalog.Catalog
	coverage Coverage
	now      func() time.Time
}

func New(store Store, cat catalog.Catalog, coverage Coverage) *Ledger {
	return &Ledger{store: store, catalog: cat, coverage: coverage, now: time.Now}
}

type Request struct {
	ProviderID      string
	ClientID        string
	ServiceID       string
	Date            time.Time
	Start           model.Clock
	DurationMinutes int
}

func (r *Request) normalize() error {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	switch {
	case r.ProviderID == "":
		return fmt.Errorf("%w: provider_id is required", model.ErrInvalidInput)
	case r.ClientID == "":
		return fmt.Errorf("%w: client_id is required", model.ErrInvalidInput)
	case r.ServiceID == "":
		return fmt.Errorf("%w: service_id is required", model.ErrInvalidInput)
	case r.Date.IsZero():
		return fmt.Errorf("%w: date is required", model.ErrInvalidInput)
	}
	r.Date = model.DateOf(r.Date)
	return checkPlacement(r.Start, r.DurationMinutes)
}

func checkPlacement(start model.Clock, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", model.ErrInvalidInput)
	}
	if !start.FitsDay(minutes) {
		return fmt.Errorf("%w: %s plus %d minutes does not fit in one day", model.ErrInvalidInput, start, minutes)
	}
	return nil
}

// Create validates req in full and records a PENDING appointment. A request
// outside every covered interval fails with model.ErrSlotUnavailable.
func (l *Ledger) Create(ctx context.Context, req Request) (model.Appointment, error) {
	if err := req.normalize(); err != nil {
		return model.Appointment{}, err
	}
	if err := l.requireOffered(ctx, req.ProviderID, req.ServiceID); err != nil {
		return model.Appointment{}, err
	}
	iv := model.Interval{Start: req.Start, End: req.Start.Add(req.DurationMinutes)}
	covered, err := l.coverage.CoveredIntervals(ctx, req.ProviderID, req.Date, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !availability.Fits(covered, iv) {
		return model.Appointment{}, fmt.Errorf("%w: %s %s is outside the provider's availability", model.ErrSlotUnavailable, model.FormatDate(req.Date), iv)
	}
	return l.Insert(ctx, req)
}

// Insert records a PENDING appointment if its interval is free. Callers are
// expected to have validated service linkage and availability.
func (l *Ledger) Insert(ctx context.Context, req Request) (model.Appointment, error) {
	if err := req.normalize(); err != nil {
		return model.Appointment{}, err
	}
	now := l.now().UTC()
	appt := model.Appointment{
		ID:              uuid.NewString(),
		ProviderID:      req.ProviderID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.Insert(ctx, appt, free(appt)); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func free(appt model.Appointment) func([]model.Appointment) error {
	return func(active []model.Appointment) error {
		want := appt.Interval()
		for _, a := range active {
			if a.ID != appt.ID && a.Interval().Overlaps(want) {
				return fmt.Errorf("%w: %s %s overlaps appointment %s (%s)",
					model.ErrSlotUnavailable, model.FormatDate(appt.Date), want, a.ID, a.Interval())
			}
		}
		return nil
	}
}

func (l *Ledger) requireOffered(ctx context.Context, providerID, serviceID string) error {
	offered, err := catalog.Offers(ctx, l.catalog, providerID, serviceID)
	if err != nil {
		return err
	}
	if !offered {
		return fmt.Errorf("%w: provider %s does not offer service %s", model.ErrServiceNotOffered, providerID, serviceID)
	}
	return nil
}

func (l *Ledger) Confirm(ctx context.Context, id string, guard Guard) (model.Appointment, error) {
	return l.Transition(ctx, id, model.ActionConfirm, guard)
}

// Refuse frees the interval immediately.
func (l *Ledger) Refuse(ctx context.Context, id string, guard Guard) (model.Appointment, error) {
	return l.Transition(ctx, id, model.ActionRefuse, guard)
}

func (l *Ledger) Cancel(ctx context.Context, id string, guard Guard) (model.Appointment, error) {
	return l.Transition(ctx, id, model.ActionCancel, guard)
}

func (l *Ledger) Transition(ctx context.Context, id string, action model.Action, guard Guard) (model.Appointment, error) {
	return l.store.Update(ctx, id, func(a *model.Appointment) error {
		if guard != nil {
			if err := guard(*a); err != nil {
				return err
			}
		}
		return a.Apply(action, l.now().UTC())
	})
}

// Change describes a reschedule. Nil or empty fields keep their current value.
type Change struct {
	Date            *time.Time
	Start           *model.Clock
	ServiceID       string
	DurationMinutes int
}

// Reschedule moves an active appointment. A confirmed appointment needs
// confirming again afterwards.
func (l *Ledger) Reschedule(ctx context.Context, id string, change Change, guard Guard) (model.Appointment, error) {
	var next model.Appointment
	plan := func(cur model.Appointment) (model.Appointment, error) {
		if guard != nil {
			if err := guard(cur); err != nil {
				return model.Appointment{}, err
			}
		}
		if !cur.Status.Active() {
			return model.Appointment{}, fmt.Errorf("%w: cannot reschedule an appointment that is %s", model.ErrInvalidTransition, cur.Status)
		}

		next = cur
		if change.Date != nil {
			next.Date = model.DateOf(*change.Date)
		}
		if change.Start != nil {
			next.Start = *change.Start
		}
		if change.DurationMinutes > 0 {
			next.DurationMinutes = change.DurationMinutes
		}
		if sid := strings.TrimSpace(change.ServiceID); sid != "" && sid != cur.ServiceID {
			if err := l.requireOffered(ctx, cur.ProviderID, sid); err != nil {
				return model.Appointment{}, err
			}
			next.ServiceID = sid
		}
		if err := checkPlacement(next.Start, next.DurationMinutes); err != nil {
			return model.Appointment{}, err
		}

		covered, err := l.coverage.CoveredIntervals(ctx, next.ProviderID, next.Date, next.ServiceID)
		if err != nil {
			return model.Appointment{}, err
		}
		if !availability.Fits(covered, next.Interval()) {
			return model.Appointment{}, fmt.Errorf("%w: %s %s is outside the provider's availability",
				model.ErrOutsideAvailability, model.FormatDate(next.Date), next.Interval())
		}

		next.Status = model.StatusPending
		next.UpdatedAt = l.now().UTC()
		return next, nil
	}
	return l.store.Move(ctx, id, plan, func(active []model.Appointment) error {
		return free(next)(active)
	})
}

func (l *Ledger) Get(ctx context.Context, id string, guard Guard) (model.Appointment, error) {
	appt, err := l.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if guard != nil {
		if err := guard(appt); err != nil {
			return model.Appointment{}, err
		}
	}
	return appt, nil
}

// ListByProvider returns appointments ordered by date then start. A nil date
// lists every date.
func (l *Ledger) ListByProvider(ctx context.Context, providerID string, date *time.Time) ([]model.Appointment, error) {
	if date != nil {
		d := model.DateOf(*date)
		date = &d
	}
	return l.store.ListByProvider(ctx, providerID, date)
}

func (l *Ledger) ListByClient(ctx context.Context, clientID string) ([]model.Appointment, error) {
	return l.store.ListByClient(ctx, clientID)
}

// ActiveIntervals returns the intervals held by PENDING or CONFIRMED
// appointments of providerID on date.
func (l *Ledger) ActiveIntervals(ctx context.Context, providerID string, date time.Time) ([]model.Interval, error) {
	active, err := l.store.ListActive(ctx, providerID, model.DateOf(date))
	if err != nil {
		return nil, err
	}
	out := make([]model.Interval, 0, len(active))
	for _, a := range active {
		out = append(out, a.Interval())
	}
	return out, nil
}
