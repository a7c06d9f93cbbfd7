// Package catalog answers service and provider-offering questions owned by the
// external service catalog and provider profile store. Booking never writes
// these tables.
package catalog

import (
	"context"
	"slices"
)

type Catalog interface {
	// ServiceDuration returns the canonical duration of a service in minutes.
	// ok is false when the service exists without one. Unknown services fail
	// with model.ErrNotFound.
	ServiceDuration(ctx context.Context, serviceID string) (minutes int, ok bool, err error)
	ServicesOfferedBy(ctx context.Context, providerID string) ([]string, error)
}

// Offers reports whether providerID is linked to serviceID.
func Offers(ctx context.Context, c Catalog, providerID, serviceID string) (bool, error) {
	ids, err := c.ServicesOfferedBy(ctx, providerID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, serviceID), nil
}
