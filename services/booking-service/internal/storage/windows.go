package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type WindowRepository struct {
	pool db.DB
}

func NewWindowRepository(pool db.DB) *WindowRepository {
	return &WindowRepository{pool: pool}
}

const windowColumns = `id, provider_id, day_of_week, start_minute, end_minute, COALESCE(service_id::text, ''), created_at, updated_at`

func (r *WindowRepository) InsertWindow(ctx context.Context, w model.AvailabilityWindow) error {
	if !validID(w.ProviderID) || (w.ServiceID != "" && !validID(w.ServiceID)) {
		return fmt.Errorf("%w: provider and service ids must be uuids", model.ErrInvalidInput)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_windows
			(id, provider_id, day_of_week, start_minute, end_minute, service_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8)
	`, w.ID, w.ProviderID, int(w.Day), int(w.Start), int(w.End), w.ServiceID, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return model.Infra(err)
	}
	return nil
}

func (r *WindowRepository) UpdateWindow(ctx context.Context, w model.AvailabilityWindow) error {
	if w.ServiceID != "" && !validID(w.ServiceID) {
		return fmt.Errorf("%w: service id must be a uuid", model.ErrInvalidInput)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_windows
		SET day_of_week = $2,
			start_minute = $3,
			end_minute = $4,
			service_id = NULLIF($5, '')::uuid,
			updated_at = $6
		WHERE id = $1
	`, w.ID, int(w.Day), int(w.Start), int(w.End), w.ServiceID, w.UpdatedAt)
	if err != nil {
		return model.Infra(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: window %s", model.ErrNotFound, w.ID)
	}
	return nil
}

func (r *WindowRepository) DeleteWindow(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return model.Infra(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	return nil
}

func (r *WindowRepository) GetWindow(ctx context.Context, id string) (model.AvailabilityWindow, error) {
	if !validID(id) {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	w, err := scanWindow(r.pool.QueryRow(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.AvailabilityWindow{}, model.Infra(err)
	}
	return w, nil
}

func (r *WindowRepository) ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	if !validID(providerID) {
		return []model.AvailabilityWindow{}, nil
	}
	return r.query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY day_of_week, start_minute
	`, providerID)
}

func (r *WindowRepository) WindowsByDay(ctx context.Context, providerID string, day model.Weekday) ([]model.AvailabilityWindow, error) {
	if !validID(providerID) {
		return []model.AvailabilityWindow{}, nil
	}
	return r.query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE provider_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, providerID, int(day))
}

func (r *WindowRepository) query(ctx context.Context, sql string, args ...any) ([]model.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, model.Infra(err)
	}
	defer rows.Close()

	windows := []model.AvailabilityWindow{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, model.Infra(err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Infra(err)
	}
	return windows, nil
}

func scanWindow(row pgx.Row) (model.AvailabilityWindow, error) {
	var (
		w               model.AvailabilityWindow
		day, start, end int
	)
	if err := row.Scan(&w.ID, &w.ProviderID, &day, &start, &end, &w.ServiceID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return model.AvailabilityWindow{}, err
	}
	w.Day, w.Start, w.End = model.Weekday(day), model.Clock(start), model.Clock(end)
	return w, nil
}

// validID guards uuid columns from malformed input, which Postgres would
// reject with a cast error instead of an empty result.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
