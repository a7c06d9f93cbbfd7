package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Memory keeps windows and appointments in process. Appointments are sharded
// per provider; each shard has its own mutex, held across check-and-insert.
type Memory struct {
	mu      sync.RWMutex
	windows map[string]model.AvailabilityWindow
	shards  map[string]*shard
	owner   map[string]string // appointment id -> provider id
}

type shard struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
}

func NewMemory() *Memory {
	return &Memory{
		windows: map[string]model.AvailabilityWindow{},
		shards:  map[string]*shard{},
		owner:   map[string]string{},
	}
}

func (m *Memory) InsertWindow(_ context.Context, w model.AvailabilityWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ID] = w
	return nil
}

func (m *Memory) UpdateWindow(_ context.Context, w model.AvailabilityWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[w.ID]; !ok {
		return fmt.Errorf("%w: window %s", model.ErrNotFound, w.ID)
	}
	m.windows[w.ID] = w
	return nil
}

func (m *Memory) DeleteWindow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	delete(m.windows, id)
	return nil
}

func (m *Memory) GetWindow(_ context.Context, id string) (model.AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: window %s", model.ErrNotFound, id)
	}
	return w, nil
}

func (m *Memory) ListWindows(_ context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	return m.filterWindows(func(w model.AvailabilityWindow) bool { return w.ProviderID == providerID }), nil
}

func (m *Memory) WindowsByDay(_ context.Context, providerID string, day model.Weekday) ([]model.AvailabilityWindow, error) {
	return m.filterWindows(func(w model.AvailabilityWindow) bool {
		return w.ProviderID == providerID && w.Day == day
	}), nil
}

func (m *Memory) filterWindows(keep func(model.AvailabilityWindow) bool) []model.AvailabilityWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.AvailabilityWindow{}
	for _, w := range m.windows {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

func (m *Memory) shardFor(providerID string) *shard {
	m.mu.RLock()
	s, ok := m.shards[providerID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shards[providerID]; ok {
		return s
	}
	s = &shard{appts: map[string]model.Appointment{}}
	m.shards[providerID] = s
	return s
}

func (m *Memory) shardOf(id string) (*shard, error) {
	m.mu.RLock()
	providerID, ok := m.owner[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return m.shardFor(providerID), nil
}

func (s *shard) active(date time.Time, except string) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appts {
		if a.ID != except && a.Status.Active() && a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	return out
}

// Insert stores appt if check accepts the provider's active appointments on
// appt.Date.
func (m *Memory) Insert(ctx context.Context, appt model.Appointment, check func(active []model.Appointment) error) error {
	s := m.shardFor(appt.ProviderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.Infra(err)
	}
	if check != nil {
		if err := check(s.active(appt.Date, "")); err != nil {
			return err
		}
	}
	s.appts[appt.ID] = appt

	m.mu.Lock()
	m.owner[appt.ID] = appt.ProviderID
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	s, err := m.shardOf(id)
	if err != nil {
		return model.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	appt := s.appts[id]
	if err := fn(&appt); err != nil {
		return model.Appointment{}, err
	}
	s.appts[id] = appt
	return appt, nil
}

func (m *Memory) Move(_ context.Context, id string, plan func(model.Appointment) (model.Appointment, error), check func(active []model.Appointment) error) (model.Appointment, error) {
	s, err := m.shardOf(id)
	if err != nil {
		return model.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.appts[id]
	next, err := plan(cur)
	if err != nil {
		return model.Appointment{}, err
	}
	if next.ID != cur.ID || next.ProviderID != cur.ProviderID {
		return model.Appointment{}, fmt.Errorf("%w: an appointment cannot change provider", model.ErrInvalidInput)
	}
	if check != nil {
		if err := check(s.active(next.Date, id)); err != nil {
			return model.Appointment{}, err
		}
	}
	s.appts[id] = next
	return next, nil
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	s, err := m.shardOf(id)
	if err != nil {
		return model.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id], nil
}

func (m *Memory) ListActive(_ context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	s := m.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortAppointments(s.active(date, "")), nil
}

func (m *Memory) ListByProvider(_ context.Context, providerID string, date *time.Time) ([]model.Appointment, error) {
	s := m.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Appointment{}
	for _, a := range s.appts {
		if date == nil || a.Date.Equal(*date) {
			out = append(out, a)
		}
	}
	return sortAppointments(out), nil
}

func (m *Memory) ListByClient(_ context.Context, clientID string) ([]model.Appointment, error) {
	m.mu.RLock()
	shards := make([]*shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.RUnlock()

	out := []model.Appointment{}
	for _, s := range shards {
		s.mu.Lock()
		for _, a := range s.appts {
			if a.ClientID == clientID {
				out = append(out, a)
			}
		}
		s.mu.Unlock()
	}
	return sortAppointments(out), nil
}

func sortAppointments(appts []model.Appointment) []model.Appointment {
	slices.SortFunc(appts, func(a, b model.Appointment) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return appts
}
