package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// EventWriter appends a domain event inside the caller's transaction.
type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// AppointmentRepository serializes writes per (provider, date) with a
// transaction-scoped advisory lock. The appointments_no_overlap exclusion
// constraint rejects anything that slips past it.
type AppointmentRepository struct {
	pool   db.DB
	events EventWriter
}

// NewAppointmentRepository returns a repository that records lifecycle events
// through events. A nil events writer disables them.
func NewAppointmentRepository(pool db.DB, events EventWriter) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, events: events}
}

const appointmentColumns = `id, provider_id, client_id, service_id, appointment_date, start_minute, duration_minutes, status, created_at, updated_at`

func (r *AppointmentRepository) Insert(ctx context.Context, appt model.Appointment, check func(active []model.Appointment) error) error {
	if !validID(appt.ProviderID) || !validID(appt.ClientID) || !validID(appt.ServiceID) {
		return fmt.Errorf("%w: provider, client and service ids must be uuids", model.ErrInvalidInput)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Infra(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProviderDate(ctx, tx, appt.ProviderID, appt.Date); err != nil {
		return model.Infra(err)
	}
	if check != nil {
		active, err := listActive(ctx, tx, appt.ProviderID, appt.Date, "")
		if err != nil {
			return model.Infra(err)
		}
		if err := check(active); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, provider_id, client_id, service_id, appointment_date, start_minute, duration_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, appt.ID, appt.ProviderID, appt.ClientID, appt.ServiceID, appt.Date, int(appt.Start), appt.DurationMinutes,
		string(appt.Status), appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return conflictOrInfra(err, appt)
	}
	if err := r.emit(ctx, tx, outbox.AppointmentCreated, appt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return conflictOrInfra(err, appt)
	}
	return nil
}

// Update applies fn to the locked row and persists the resulting status.
func (r *AppointmentRepository) Update(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, model.Infra(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := getForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	before := appt.Status
	if err := fn(&appt); err != nil {
		return model.Appointment{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = $3
		WHERE id = $1
	`, appt.ID, string(appt.Status), appt.UpdatedAt)
	if err != nil {
		return model.Appointment{}, conflictOrInfra(err, appt)
	}
	if appt.Status != before {
		if err := r.emit(ctx, tx, outbox.StatusEventType(appt.Status), appt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, conflictOrInfra(err, appt)
	}
	return appt, nil
}

// Move locks the row, asks plan for the new placement, then re-checks overlap
// under the target (provider, date) lock.
func (r *AppointmentRepository) Move(ctx context.Context, id string, plan func(model.Appointment) (model.Appointment, error), check func(active []model.Appointment) error) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, model.Infra(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	next, err := plan(cur)
	if err != nil {
		return model.Appointment{}, err
	}
	if next.ID != cur.ID || next.ProviderID != cur.ProviderID {
		return model.Appointment{}, fmt.Errorf("%w: an appointment cannot change provider", model.ErrInvalidInput)
	}
	if !validID(next.ServiceID) {
		return model.Appointment{}, fmt.Errorf("%w: service id must be a uuid", model.ErrInvalidInput)
	}

	if err := lockProviderDate(ctx, tx, next.ProviderID, next.Date); err != nil {
		return model.Appointment{}, model.Infra(err)
	}
	if check != nil {
		active, err := listActive(ctx, tx, next.ProviderID, next.Date, id)
		if err != nil {
			return model.Appointment{}, model.Infra(err)
		}
		if err := check(active); err != nil {
			return model.Appointment{}, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET service_id = $2,
			appointment_date = $3,
			start_minute = $4,
			duration_minutes = $5,
			status = $6,
			updated_at = $7
		WHERE id = $1
	`, next.ID, next.ServiceID, next.Date, int(next.Start), next.DurationMinutes, string(next.Status), next.UpdatedAt)
	if err != nil {
		return model.Appointment{}, conflictOrInfra(err, next)
	}
	if err := r.emit(ctx, tx, outbox.AppointmentRescheduled, next); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, conflictOrInfra(err, next)
	}
	return next, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Appointment{}, model.Infra(err)
	}
	return appt, nil
}

func (r *AppointmentRepository) ListActive(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	if !validID(providerID) {
		return []model.Appointment{}, nil
	}
	appts, err := listActive(ctx, r.pool, providerID, date, "")
	if err != nil {
		return nil, model.Infra(err)
	}
	return appts, nil
}

func (r *AppointmentRepository) ListByProvider(ctx context.Context, providerID string, date *time.Time) ([]model.Appointment, error) {
	if !validID(providerID) {
		return []model.Appointment{}, nil
	}
	if date == nil {
		return r.query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE provider_id = $1
			ORDER BY appointment_date, start_minute, id
		`, providerID)
	}
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND appointment_date = $2
		ORDER BY appointment_date, start_minute, id
	`, providerID, *date)
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string) ([]model.Appointment, error) {
	if !validID(clientID) {
		return []model.Appointment{}, nil
	}
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY appointment_date, start_minute, id
	`, clientID)
}

func (r *AppointmentRepository) query(ctx context.Context, sql string, args ...any) ([]model.Appointment, error) {
	appts, err := queryAppointments(ctx, r.pool, sql, args...)
	if err != nil {
		return nil, model.Infra(err)
	}
	return appts, nil
}

func (r *AppointmentRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	if r.events == nil || eventType == "" {
		return nil
	}
	evt, err := outbox.AppointmentEvent(eventType, appt)
	if err != nil {
		return model.Infra(err)
	}
	if err := r.events.Insert(ctx, tx, evt); err != nil {
		return model.Infra(err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func lockProviderDate(ctx context.Context, tx pgx.Tx, providerID string, date time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(providerID, date))
	return err
}

func lockKey(providerID string, date time.Time) string {
	return "appointments:" + providerID + ":" + model.FormatDate(date)
}

func listActive(ctx context.Context, q querier, providerID string, date time.Time, except string) ([]model.Appointment, error) {
	return queryAppointments(ctx, q, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND appointment_date = $2
			AND status IN ('PENDING', 'CONFIRMED')
			AND id::text <> $3
		ORDER BY start_minute
	`, providerID, date, except)
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	appt, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Appointment{}, model.Infra(err)
	}
	return appt, nil
}

func queryAppointments(ctx context.Context, q querier, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := []model.Appointment{}
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a               model.Appointment
		start, duration int
		status          string
	)
	if err := row.Scan(&a.ID, &a.ProviderID, &a.ClientID, &a.ServiceID, &a.Date, &start, &duration, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Appointment{}, err
	}
	a.Date = model.DateOf(a.Date)
	a.Start, a.DurationMinutes, a.Status = model.Clock(start), duration, model.Status(status)
	return a, nil
}

func conflictOrInfra(err error, appt model.Appointment) error {
	if db.IsExclusionViolation(err) {
		return fmt.Errorf("%w: %s %s overlaps an active appointment", model.ErrSlotUnavailable, model.FormatDate(appt.Date), appt.Interval())
	}
	return model.Infra(err)
}
