// Package store provides in-memory engine.Store, engine.Catalog and
// engine.HolidaySource implementations for tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/fieldservice-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory document store with optimistic commit
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	activities map[string]engine.Activity
	movements  map[engine.MovementID]storedMovement
	aggregates map[engine.ItemKey]engine.Aggregate
	counters   map[engine.CounterKey]engine.SequenceCounter
	inserted   int64
}

type storedMovement struct {
	movement engine.Movement
	seq      int64
}

func NewMemory() *Memory {
	return &Memory{
		activities: make(map[string]engine.Activity),
		movements:  make(map[engine.MovementID]storedMovement),
		aggregates: make(map[engine.ItemKey]engine.Aggregate),
		counters:   make(map[engine.CounterKey]engine.SequenceCounter),
	}
}

func (m *Memory) ReadActivity(_ context.Context, id string) (*engine.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return nil, nil
	}
	c := a.Clone()
	return &c, nil
}

func (m *Memory) ReadMovement(_ context.Context, id engine.MovementID) (*engine.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.movements[id]
	if !ok {
		return nil, nil
	}
	mv := s.movement
	return &mv, nil
}

func (m *Memory) ReadAggregate(_ context.Context, key engine.ItemKey) (*engine.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.aggregates[key]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ReadCounter(_ context.Context, key engine.CounterKey) (*engine.SequenceCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.counters[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Commit validates every read version and applies the write-set, all under
// one lock. Nothing is applied when validation fails.
func (m *Memory) Commit(_ context.Context, reads engine.ReadSet, writes engine.WriteSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateLocked(reads, writes); err != nil {
		return err
	}

	for _, a := range writes.Activities {
		m.activities[a.ID] = a.Clone()
	}
	for _, id := range writes.DeletedActivities {
		delete(m.activities, id)
	}
	for _, id := range writes.DeletedMovements {
		delete(m.movements, id)
	}
	for _, mv := range writes.Movements {
		m.inserted++
		m.movements[mv.ID] = storedMovement{movement: mv, seq: m.inserted}
	}
	for _, a := range writes.Aggregates {
		m.aggregates[a.Key] = a
	}
	for _, c := range writes.Counters {
		m.counters[c.Key()] = c
	}
	return nil
}

func (m *Memory) validateLocked(reads engine.ReadSet, writes engine.WriteSet) error {
	for id, want := range reads.Activities {
		var got int64
		if a, ok := m.activities[id]; ok {
			got = a.Version
		}
		if got != want {
			return fmt.Errorf("activity %s: %w", id, engine.ErrConcurrentModification)
		}
	}
	for key, want := range reads.Aggregates {
		var got int64
		if a, ok := m.aggregates[key]; ok {
			got = a.Version
		}
		if got != want {
			return fmt.Errorf("aggregate %s: %w", key, engine.ErrConcurrentModification)
		}
	}
	for key, want := range reads.Counters {
		var got int64
		if c, ok := m.counters[key]; ok {
			got = c.Version
		}
		if got != want {
			return fmt.Errorf("counter %s: %w", key, engine.ErrConcurrentModification)
		}
	}
	for id := range reads.Movements {
		if _, ok := m.movements[id]; !ok {
			return fmt.Errorf("movement %s: %w", id, engine.ErrConcurrentModification)
		}
	}

	deleted := make(map[engine.MovementID]bool, len(writes.DeletedMovements))
	for _, id := range writes.DeletedMovements {
		deleted[id] = true
	}
	for _, mv := range writes.Movements {
		if _, exists := m.movements[mv.ID]; exists && !deleted[mv.ID] {
			return fmt.Errorf("movement %s already exists: %w", mv.ID, engine.ErrConcurrentModification)
		}
	}
	return nil
}

func (m *Memory) QueryActivities(_ context.Context, q engine.ActivityQuery) ([]engine.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Activity
	for _, a := range m.activities {
		if q.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) MovementsBySource(_ context.Context, activityID string) ([]engine.Movement, error) {
	return m.movementsWhere(func(mv engine.Movement) bool { return mv.SourceActivityID == activityID }), nil
}

func (m *Memory) MovementsByKey(_ context.Context, key engine.ItemKey) ([]engine.Movement, error) {
	return m.movementsWhere(func(mv engine.Movement) bool { return mv.Key == key }), nil
}

func (m *Memory) movementsWhere(match func(engine.Movement) bool) []engine.Movement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []storedMovement
	for _, s := range m.movements {
		if match(s.movement) {
			found = append(found, s)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]engine.Movement, len(found))
	for i, s := range found {
		out[i] = s.movement
	}
	return out
}

func (m *Memory) ListAggregates(_ context.Context) ([]engine.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Aggregate, 0, len(m.aggregates))
	for _, a := range m.aggregates {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is an in-memory engine.Catalog.
type Catalog struct {
	mu    sync.RWMutex
	items []engine.CatalogItem
}

func NewCatalog(items ...engine.CatalogItem) *Catalog {
	return &Catalog{items: append([]engine.CatalogItem(nil), items...)}
}

func (c *Catalog) Add(item engine.CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *Catalog) LookupProduct(_ context.Context, name, category string) (*engine.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if it.Kind == engine.KindProduct &&
			strings.EqualFold(strings.TrimSpace(it.Name), strings.TrimSpace(name)) &&
			(category == "" || strings.EqualFold(strings.TrimSpace(it.Category), strings.TrimSpace(category))) {
			found := it
			return &found, nil
		}
	}
	return nil, nil
}

func (c *Catalog) LookupConsumable(_ context.Context, name string) (*engine.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if it.Kind == engine.KindConsumable && strings.EqualFold(strings.TrimSpace(it.Name), strings.TrimSpace(name)) {
			found := it
			return &found, nil
		}
	}
	return nil, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// Holidays is a fixed engine.HolidaySource.
type Holidays []engine.Holiday

func (h Holidays) ListHolidays(context.Context) ([]engine.Holiday, error) {
	return append([]engine.Holiday(nil), h...), nil
}
