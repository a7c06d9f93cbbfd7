package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Repository reads the services and provider_services tables.
type Repository struct {
	pool db.DB
}

func NewRepository(pool db.DB) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ServiceDuration(ctx context.Context, serviceID string) (int, bool, error) {
	if !validID(serviceID) {
		return 0, false, fmt.Errorf("%w: service %s", model.ErrNotFound, serviceID)
	}
	var minutes int32
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(duration_minutes, 0) FROM services WHERE id = $1`, serviceID).Scan(&minutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: service %s", model.ErrNotFound, serviceID)
	}
	if err != nil {
		return 0, false, model.Infra(err)
	}
	if minutes <= 0 {
		return 0, false, nil
	}
	return int(minutes), true, nil
}

// ServicesOfferedBy returns an empty set for ids that are not uuids.
func (r *Repository) ServicesOfferedBy(ctx context.Context, providerID string) ([]string, error) {
	if !validID(providerID) {
		return []string{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT service_id
		FROM provider_services
		WHERE provider_id = $1
		ORDER BY service_id
	`, providerID)
	if err != nil {
		return nil, model.Infra(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.Infra(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Infra(err)
	}
	return ids, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
