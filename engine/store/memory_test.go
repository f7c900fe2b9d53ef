package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/engine/store"
	_ "github.com/warp/fieldservice-engine/reports"
)

func movement(id, name string, dir engine.Direction, q int64) engine.Movement {
	return engine.Movement{
		ID:        engine.MovementID(id),
		Key:       engine.NewItemKey(name, "parts"),
		Name:      name,
		Category:  "parts",
		Direction: dir,
		Quantity:  decimal.NewFromInt(q),
		CreatedAt: time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC),
	}
}

func emptyReads() engine.ReadSet {
	return engine.ReadSet{
		Activities: map[string]int64{},
		Aggregates: map[engine.ItemKey]int64{},
		Counters:   map[engine.CounterKey]int64{},
		Movements:  map[engine.MovementID]bool{},
	}
}

func TestMemory_CommitChecksVersions(t *testing.T) {
	// GIVEN: An aggregate at version 1
	ctx := context.Background()
	m := store.NewMemory()
	key := engine.NewItemKey("A", "parts")
	agg := engine.NewAggregate(key)
	agg.Version = 1
	require.NoError(t, m.Commit(ctx, emptyReads(), engine.WriteSet{Aggregates: []engine.Aggregate{agg}}))

	// WHEN: A writer that read version 0 commits
	reads := emptyReads()
	reads.Aggregates[key] = 0
	stale := agg
	stale.Version = 2
	stale.CurrentStock = decimal.NewFromInt(9)
	err := m.Commit(ctx, reads, engine.WriteSet{Aggregates: []engine.Aggregate{stale}})

	// THEN: The commit is rejected and nothing changed
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)
	got, err := m.ReadAggregate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CurrentStock.IsZero())
}

func TestMemory_CommitRejectsDuplicateMovement(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	mv := movement("a1:1:0", "A", engine.Outflow, 1)
	require.NoError(t, m.Commit(ctx, emptyReads(), engine.WriteSet{Movements: []engine.Movement{mv}}))

	err := m.Commit(ctx, emptyReads(), engine.WriteSet{Movements: []engine.Movement{mv}})
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)

	// Replacing in the same commit is allowed.
	reads := emptyReads()
	reads.Movements[mv.ID] = true
	err = m.Commit(ctx, reads, engine.WriteSet{DeletedMovements: []engine.MovementID{mv.ID}, Movements: []engine.Movement{mv}})
	assert.NoError(t, err)
}

func TestMemory_CommitFailsWhenReadMovementIsGone(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	reads := emptyReads()
	reads.Movements["missing"] = true

	err := m.Commit(ctx, reads, engine.WriteSet{DeletedMovements: []engine.MovementID{"missing"}})

	assert.ErrorIs(t, err, engine.ErrConcurrentModification)
}

func TestMemory_MovementsInInsertionOrder(t *testing.T) {
	// GIVEN: Three movements for one key from two activities
	ctx := context.Background()
	m := store.NewMemory()
	first := movement("x:1:0", "A", engine.Outflow, 2)
	first.SourceActivityID = "x"
	second := movement("y:1:0", "A", engine.Inflow, 5)
	second.SourceActivityID = "y"
	third := movement("x:1:1", "B", engine.Outflow, 1)
	third.SourceActivityID = "x"
	for _, mv := range []engine.Movement{first, second, third} {
		require.NoError(t, m.Commit(ctx, emptyReads(), engine.WriteSet{Movements: []engine.Movement{mv}}))
	}

	// WHEN: Listing by key and by source
	byKey, err := m.MovementsByKey(ctx, engine.NewItemKey("A", "parts"))
	require.NoError(t, err)
	bySource, err := m.MovementsBySource(ctx, "x")
	require.NoError(t, err)

	// THEN: Oldest first
	require.Len(t, byKey, 2)
	assert.Equal(t, first.ID, byKey[0].ID)
	assert.Equal(t, second.ID, byKey[1].ID)
	require.Len(t, bySource, 2)
	assert.Equal(t, third.ID, bySource[1].ID)
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	a := engine.Activity{ID: "a1", CustomerID: "c1", Type: engine.TypeInquiry, Photos: []string{"p1"}, Version: 1}
	require.NoError(t, m.Commit(ctx, emptyReads(), engine.WriteSet{Activities: []engine.Activity{a}}))

	got, err := m.ReadActivity(ctx, "a1")
	require.NoError(t, err)
	got.Photos[0] = "mutated"

	again, err := m.ReadActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "p1", again.Photos[0])

	missing, err := m.ReadActivity(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_QueryActivities(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	base := time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)
	acts := []engine.Activity{
		{ID: "b", CustomerID: "c1", Type: engine.TypeASComplete, CreatedAt: base.Add(time.Hour)},
		{ID: "a", CustomerID: "c1", Type: engine.TypeASSchedule, CreatedAt: base},
		{ID: "c", CustomerID: "c2", Type: engine.TypeASSchedule, CreatedAt: base},
		{ID: "d", CustomerID: "c1", Type: engine.TypeInquiry, CreatedAt: base},
	}
	require.NoError(t, m.Commit(ctx, emptyReads(), engine.WriteSet{Activities: acts}))

	got, err := m.QueryActivities(ctx, engine.ActivityQuery{CustomerID: "c1", Family: engine.TypeASSchedule.Family()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = m.QueryActivities(ctx, engine.ActivityQuery{Types: []engine.ActivityType{engine.TypeASSchedule}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCatalog_LookupIgnoresCaseAndSpace(t *testing.T) {
	c := store.NewCatalog(
		engine.CatalogItem{Name: "Purifier", Category: "water", Kind: engine.KindProduct, Composition: "Cartridge x2"},
		engine.CatalogItem{Name: "Cartridge", Category: "filter", Kind: engine.KindConsumable},
	)
	ctx := context.Background()

	p, err := c.LookupProduct(ctx, " purifier ", "WATER")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Cartridge x2", p.Composition)

	p, err = c.LookupProduct(ctx, "Cartridge", "")
	require.NoError(t, err)
	assert.Nil(t, p, "consumables are not products")

	cons, err := c.LookupConsumable(ctx, "cartridge")
	require.NoError(t, err)
	require.NotNil(t, cons)
	assert.Equal(t, "filter", cons.Category)
}
