package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

const CatalogChangedTopic = "catalog.provider.services.changed.v1"

// CatalogChanged is published by the catalog when a provider's linked services
// or a service's duration change. Either id may be empty.
type CatalogChanged struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
}

type CacheInvalidator interface {
	InvalidateProvider(ctx context.Context, providerID string) error
	InvalidateService(ctx context.Context, serviceID string) error
}

// CatalogHandler drops cached catalog entries named by a CatalogChanged event.
func CatalogHandler(cache CacheInvalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt CatalogChanged
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrMalformed, msg.Topic, err)
		}
		if evt.ProviderID != "" {
			if err := cache.InvalidateProvider(ctx, evt.ProviderID); err != nil {
				return err
			}
		}
		if evt.ServiceID != "" {
			if err := cache.InvalidateService(ctx, evt.ServiceID); err != nil {
				return err
			}
		}
		logger.Info("catalog cache invalidated", "provider_id", evt.ProviderID, "service_id", evt.ServiceID)
		return nil
	}
}
