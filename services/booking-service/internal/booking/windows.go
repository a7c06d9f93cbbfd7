package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// AddWindow creates a window for providerID. Providers may omit providerID;
// admins must name it.
func (s *Service) AddWindow(ctx context.Context, actor Actor, providerID string, in availability.WindowInput) (model.AvailabilityWindow, error) {
	owner, err := actor.windowOwner()
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	providerID = strings.TrimSpace(providerID)
	switch {
	case owner == "" && providerID == "":
		return model.AvailabilityWindow{}, fmt.Errorf("%w: provider_id is required", model.ErrInvalidInput)
	case owner != "" && providerID == "":
		providerID = owner
	case owner != "" && providerID != owner:
		return model.AvailabilityWindow{}, fmt.Errorf("%w: windows of provider %s", model.ErrForbidden, providerID)
	}

	w, err := s.windows.AddWindow(ctx, providerID, in)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	s.logger.InfoContext(ctx, "availability window added", "window_id", w.ID, "provider_id", w.ProviderID, "day", w.Day.String(), "interval", w.Interval().String())
	return w, nil
}

func (s *Service) UpdateWindow(ctx context.Context, actor Actor, id string, in availability.WindowInput) (model.AvailabilityWindow, error) {
	owner, err := actor.windowOwner()
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	return s.windows.UpdateWindow(ctx, owner, id, in)
}

func (s *Service) RemoveWindow(ctx context.Context, actor Actor, id string) error {
	owner, err := actor.windowOwner()
	if err != nil {
		return err
	}
	if err := s.windows.RemoveWindow(ctx, owner, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "availability window removed", "window_id", id, "actor_id", actor.UserID)
	return nil
}

// ListWindows is readable by any caller; clients use it to see opening hours.
func (s *Service) ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	return s.windows.ListWindows(ctx, strings.TrimSpace(providerID))
}
