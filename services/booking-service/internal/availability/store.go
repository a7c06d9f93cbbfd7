package availability

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Repository persists availability windows. Get, Update and Delete fail with
// model.ErrNotFound for unknown ids.
type Repository interface {
	InsertWindow(ctx context.Context, w model.AvailabilityWindow) error
	UpdateWindow(ctx context.Context, w model.AvailabilityWindow) error
	DeleteWindow(ctx context.Context, id string) error
	GetWindow(ctx context.Context, id string) (model.AvailabilityWindow, error)
	ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error)
	WindowsByDay(ctx context.Context, providerID string, day model.Weekday) ([]model.AvailabilityWindow, error)
}

// Store owns the recurring weekly windows of every provider.
type Store struct {
	repo    Repository
	catalog catalog.Catalog
	now     func() time.Time
}

func NewStore(repo Repository, cat catalog.Catalog) *Store {
	return &Store{repo: repo, catalog: cat, now: time.Now}
}

// WindowInput is the mutable part of a window.
type WindowInput struct {
	Day       model.Weekday
	Start     model.Clock
	End       model.Clock
	ServiceID string
}

func (s *Store) validate(ctx context.Context, providerID string, in WindowInput) error {
	if !in.Day.Valid() {
		return fmt.Errorf("%w: day of week is required", model.ErrInvalidInput)
	}
	if in.Start < 0 || in.End > model.MinutesPerDay || in.Start >= in.End {
		return fmt.Errorf("%w: start %s must be before end %s", model.ErrInvalidRange, in.Start, in.End)
	}
	if in.ServiceID == "" {
		return nil
	}
	offered, err := catalog.Offers(ctx, s.catalog, providerID, in.ServiceID)
	if err != nil {
		return err
	}
	if !offered {
		return fmt.Errorf("%w: provider %s does not offer service %s", model.ErrServiceNotOffered, providerID, in.ServiceID)
	}
	return nil
}

func (s *Store) AddWindow(ctx context.Context, providerID string, in WindowInput) (model.AvailabilityWindow, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: provider_id is required", model.ErrInvalidInput)
	}
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	if err := s.validate(ctx, providerID, in); err != nil {
		return model.AvailabilityWindow{}, err
	}

	now := s.now().UTC()
	w := model.AvailabilityWindow{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Day:        in.Day,
		Start:      in.Start,
		End:        in.End,
		ServiceID:  in.ServiceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertWindow(ctx, w); err != nil {
		return model.AvailabilityWindow{}, err
	}
	return w, nil
}

// owned loads a window and hides it from callers that do not own it. An empty
// owner matches every provider.
func (s *Store) owned(ctx context.Context, owner, id string) (model.AvailabilityWindow, error) {
	w, err := s.repo.GetWindow(ctx, id)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	if owner != "" && w.ProviderID != owner {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	return w, nil
}

// UpdateWindow replaces the day, times and service restriction of window id.
func (s *Store) UpdateWindow(ctx context.Context, owner, id string, in WindowInput) (model.AvailabilityWindow, error) {
	w, err := s.owned(ctx, owner, id)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	if err := s.validate(ctx, w.ProviderID, in); err != nil {
		return model.AvailabilityWindow{}, err
	}
	w.Day, w.Start, w.End, w.ServiceID = in.Day, in.Start, in.End, in.ServiceID
	w.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWindow(ctx, w); err != nil {
		return model.AvailabilityWindow{}, err
	}
	return w, nil
}

func (s *Store) RemoveWindow(ctx context.Context, owner, id string) error {
	if _, err := s.owned(ctx, owner, id); err != nil {
		return err
	}
	return s.repo.DeleteWindow(ctx, id)
}

func (s *Store) GetWindow(ctx context.Context, owner, id string) (model.AvailabilityWindow, error) {
	return s.owned(ctx, owner, id)
}

// ListWindows returns every window of providerID ordered by day and start.
func (s *Store) ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	windows, err := s.repo.ListWindows(ctx, providerID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(windows, func(a, b model.AvailabilityWindow) int {
		if a.Day != b.Day {
			return int(a.Day - b.Day)
		}
		if a.Start != b.Start {
			return int(a.Start - b.Start)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return windows, nil
}

// WindowsFor yields the windows of providerID on day that apply to serviceID.
// An empty serviceID yields only unrestricted windows. The sequence can be
// ranged over any number of times.
func (s *Store) WindowsFor(ctx context.Context, providerID string, day model.Weekday, serviceID string) (iter.Seq[model.AvailabilityWindow], error) {
	windows, err := s.repo.WindowsByDay(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	return func(yield func(model.AvailabilityWindow) bool) {
		for _, w := range windows {
			if !w.AppliesTo(serviceID) {
				continue
			}
			if !yield(w) {
				return
			}
		}
	}, nil
}

// CoveredIntervals projects the weekly windows onto date and merges them.
func (s *Store) CoveredIntervals(ctx context.Context, providerID string, date time.Time, serviceID string) ([]model.Interval, error) {
	seq, err := s.WindowsFor(ctx, providerID, model.WeekdayOf(date), serviceID)
	if err != nil {
		return nil, err
	}
	return MergeWindows(slices.Collect(seq)), nil
}
