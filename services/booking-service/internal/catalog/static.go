package catalog

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Static is an in-memory Catalog for tests and STORAGE=memory runs.
type Static struct {
	mu        sync.RWMutex
	durations map[string]int // 0 = no canonical duration
	offerings map[string][]string
}

func NewStatic() *Static {
	return &Static{durations: map[string]int{}, offerings: map[string][]string{}}
}

// AddService registers a service; minutes <= 0 leaves its duration unset.
func (s *Static) AddService(serviceID string, minutes int) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minutes < 0 {
		minutes = 0
	}
	s.durations[serviceID] = minutes
	return s
}

func (s *Static) Link(providerID string, serviceIDs ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range serviceIDs {
		if !slices.Contains(s.offerings[providerID], id) {
			s.offerings[providerID] = append(s.offerings[providerID], id)
		}
	}
	return s
}

func (s *Static) Unlink(providerID, serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[providerID] = slices.DeleteFunc(s.offerings[providerID], func(id string) bool { return id == serviceID })
}

func (s *Static) ServiceDuration(_ context.Context, serviceID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	minutes, ok := s.durations[serviceID]
	if !ok {
		return 0, false, fmt.Errorf("%w: service %s", model.ErrNotFound, serviceID)
	}
	return minutes, minutes > 0, nil
}

func (s *Static) ServicesOfferedBy(_ context.Context, providerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.offerings[providerID])
	slices.Sort(out)
	return out, nil
}

// ParseStatic builds a catalog from "provider/service[/minutes]" entries, the
// format of MEMORY_CATALOG.
func ParseStatic(entries []string) (*Static, error) {
	s := NewStatic()
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), "/")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("catalog entry %q: want provider/service[/minutes]", entry)
		}
		minutes := 0
		if len(parts) == 3 {
			n, err := strconv.Atoi(parts[2])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("catalog entry %q: minutes must be a positive integer", entry)
			}
			minutes = n
		}
		if _, known := s.durations[parts[1]]; !known || minutes > 0 {
			s.AddService(parts[1], minutes)
		}
		s.Link(parts[0], parts[1])
	}
	return s, nil
}
