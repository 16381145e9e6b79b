// Package memstore is an in-process event store for local development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"therapycal/internal/models"
)

// Store keeps events in memory. It honours the same list limit as the remote
// stores so the engine sees the same scale ceiling.
type Store struct {
	mu     sync.RWMutex
	events map[string]models.Event
	order  []string
	limit  int
}

// New creates an empty store. limit <= 0 means 1000.
func New(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{events: make(map[string]models.Event), limit: limit}
}

// Seed inserts events as-is, assigning ids to those without one.
func (s *Store) Seed(events ...models.Event) {
	for _, ev := range events {
		_, _ = s.InsertEvent(context.Background(), ev)
	}
}

func (s *Store) ListEvents(_ context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(ev models.Event) bool { return ev.Overlaps(timeMin, timeMax) }), nil
}

func (s *Store) InsertEvent(_ context.Context, ev models.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = "memory"
	}
	ev.Private = clonePrivate(ev.Private)
	if _, exists := s.events[ev.ID]; !exists {
		s.order = append(s.order, ev.ID)
	}
	s.events[ev.ID] = ev
	return ev.ID, nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return models.ErrEventNotFound
	}
	delete(s.events, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) FindEventsByMetadata(_ context.Context, key, value string, timeMin, timeMax time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(ev models.Event) bool {
		return ev.Meta(key) == value && ev.Overlaps(timeMin, timeMax)
	}), nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// collect returns matches ordered by start time, like the calendar API's
// orderBy=startTime, with insertion order breaking ties.
func (s *Store) collect(match func(models.Event) bool) []models.Event {
	out := make([]models.Event, 0)
	for _, id := range s.order {
		ev := s.events[id]
		if match(ev) {
			ev.Private = clonePrivate(ev.Private)
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out
}

func clonePrivate(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
