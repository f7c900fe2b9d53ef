package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/reports"
	"github.com/warp/fieldservice-engine/store/sqlite"
)

var now = time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	reports.Register()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func emptyReads() engine.ReadSet {
	return engine.ReadSet{
		Activities: map[string]int64{},
		Aggregates: map[engine.ItemKey]int64{},
		Counters:   map[engine.CounterKey]int64{},
		Movements:  map[engine.MovementID]bool{},
	}
}

func TestStore_ActivityRoundTripKeepsDetails(t *testing.T) {
	// GIVEN: A completion with typed details
	s := newStore(t)
	ctx := context.Background()
	a := engine.Activity{
		ID:         "a1",
		CustomerID: "c1",
		Type:       engine.TypeASComplete,
		SelectedProducts: []engine.ItemSelection{
			{ID: "r1", Name: "A", Category: "parts", Quantity: decimal.RequireFromString("1.5")},
		},
		Details:   reports.ASCompleteDetails{CompletedAt: now, ServiceType: "repair", Resolution: "fixed"},
		CreatedAt: now,
		Version:   1,
	}

	// WHEN: Committing and reading it back
	require.NoError(t, s.Commit(ctx, emptyReads(), engine.WriteSet{Activities: []engine.Activity{a}}))
	got, err := s.ReadActivity(ctx, "a1")

	// THEN: Details decode into the registered variant
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
	details, ok := got.Details.(reports.ASCompleteDetails)
	require.True(t, ok)
	assert.Equal(t, "fixed", details.Resolution)
	assert.True(t, got.SelectedProducts[0].Quantity.Equal(decimal.RequireFromString("1.5")))
}

func TestStore_CommitRejectsStaleRead(t *testing.T) {
	// GIVEN: A counter at version 1
	s := newStore(t)
	ctx := context.Background()
	counter := engine.SequenceCounter{CustomerID: "c1", Family: reports.FamilyAS, LastSequence: 1, TotalCount: 1, Version: 1}
	require.NoError(t, s.Commit(ctx, emptyReads(), engine.WriteSet{Counters: []engine.SequenceCounter{counter}}))

	// WHEN: A writer that saw it absent tries to create it along with an aggregate
	reads := emptyReads()
	reads.Counters[counter.Key()] = 0
	agg := engine.NewAggregate(engine.NewItemKey("A", "parts"))
	agg.Version = 1
	err := s.Commit(ctx, reads, engine.WriteSet{Aggregates: []engine.Aggregate{agg}})

	// THEN: Nothing is written
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)
	got, err := s.ReadAggregate(ctx, agg.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DuplicateMovementIsConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mv := engine.Movement{
		ID: "a1:1:0", Key: engine.NewItemKey("A", "parts"), Name: "A", Category: "parts",
		Direction: engine.Outflow, Quantity: decimal.NewFromInt(2), Stock: decimal.NewFromInt(-2),
		SourceActivityID: "a1", CreatedAt: now,
	}
	require.NoError(t, s.Commit(ctx, emptyReads(), engine.WriteSet{Movements: []engine.Movement{mv}}))

	err := s.Commit(ctx, emptyReads(), engine.WriteSet{Movements: []engine.Movement{mv}})
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)

	got, err := s.MovementsBySource(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Stock.Equal(decimal.NewFromInt(-2)))
}

func TestStore_CorruptQuantityIsAnError(t *testing.T) {
	// GIVEN: A file-backed store holding one movement and its aggregate
	reports.Register()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	key := engine.NewItemKey("A", "parts")
	mv := engine.Movement{
		ID: "a1:1:0", Key: key, Name: "A", Category: "parts",
		Direction: engine.Outflow, Quantity: decimal.NewFromInt(2), Stock: decimal.NewFromInt(-2),
		SourceActivityID: "a1", CreatedAt: now,
	}
	agg := engine.NewAggregate(key)
	agg.CurrentStock = decimal.NewFromInt(-2)
	agg.TotalOutflow = decimal.NewFromInt(2)
	agg.Version = 1
	require.NoError(t, s.Commit(ctx, emptyReads(), engine.WriteSet{
		Movements:  []engine.Movement{mv},
		Aggregates: []engine.Aggregate{agg},
	}))

	// WHEN: The stored quantities are damaged behind the store's back
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE movements SET quantity = 'two' WHERE id = ?`, string(mv.ID))
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE aggregates SET total_outflow = '' WHERE item_key = ?`, string(key))
	require.NoError(t, err)

	// THEN: Reads fail instead of returning zero
	_, err = s.MovementsByKey(ctx, key)
	assert.ErrorContains(t, err, "corrupt quantity")
	_, err = s.ReadMovement(ctx, mv.ID)
	assert.Error(t, err)
	_, err = s.ReadAggregate(ctx, key)
	assert.ErrorContains(t, err, "corrupt total_outflow")

	// AND: The reconciler refuses to rebuild from the damaged history
	_, err = engine.NewReconciler(s).Reconcile(ctx, key)
	assert.Error(t, err)
}

func TestStore_CoordinatorEndToEnd(t *testing.T) {
	// GIVEN: The coordinator on top of SQLite
	s := newStore(t)
	ctx := context.Background()
	coord := engine.NewCoordinator(s)
	actor := engine.Actor{ID: "tech-1", Role: engine.RoleMember, Name: "Kim"}
	rows := []engine.ItemSelection{{ID: "r1", Name: "A", Category: "parts", Quantity: decimal.NewFromInt(2)}}

	// WHEN: A schedule reserves and a completion settles one fewer
	sched, err := coord.Save(ctx, engine.SaveCommand{Actor: actor, Now: now, Activity: engine.Activity{
		CustomerID: "c1", Type: engine.TypeASSchedule, SelectedProducts: rows,
		Details: reports.ASScheduleDetails{ScheduledAt: now, ServiceType: "repair"},
	}})
	require.NoError(t, err)
	rows[0].Quantity = decimal.NewFromInt(1)
	comp, err := coord.Save(ctx, engine.SaveCommand{Actor: actor, Now: now.Add(time.Hour), Activity: engine.Activity{
		CustomerID: "c1", Type: engine.TypeASComplete, SelectedProducts: rows,
		Details: reports.ASCompleteDetails{CompletedAt: now, ServiceType: "repair", Resolution: "done"},
	}})
	require.NoError(t, err)

	// THEN: The pair is linked and the net effect is one unit out
	assert.Equal(t, sched.Activity.ID, comp.Activity.PairedActivityID)
	agg, err := s.ReadAggregate(ctx, engine.NewItemKey("A", "parts"))
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.True(t, agg.CurrentStock.Equal(decimal.NewFromInt(-1)), agg.CurrentStock.String())

	// AND: Reconciliation over SQLite finds no drift
	rec := engine.NewReconciler(s)
	res, err := rec.Reconcile(ctx, agg.Key)
	require.NoError(t, err)
	assert.False(t, res.Repaired)

	listed, err := s.QueryActivities(ctx, engine.ActivityQuery{CustomerID: "c1", Family: reports.FamilyAS})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, sched.Activity.ID, listed[0].ID)
}

func TestStore_Catalog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCatalogItem(ctx, engine.CatalogItem{ID: "p1", Name: "Purifier", Category: "water", Kind: engine.KindProduct, Composition: "Cartridge x2"}))
	require.NoError(t, s.SaveCatalogItem(ctx, engine.CatalogItem{ID: "c1", Name: "Cartridge", Category: "filter", Kind: engine.KindConsumable}))

	// Upsert on kind+name+category keeps one row.
	require.NoError(t, s.SaveCatalogItem(ctx, engine.CatalogItem{ID: "p2", Name: "Purifier", Category: "water", Kind: engine.KindProduct, Composition: "Cartridge x3"}))

	all, err := s.ListCatalogItems(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	p, err := s.LookupProduct(ctx, "purifier", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Cartridge x3", p.Composition)

	c, err := s.LookupConsumable(ctx, "CARTRIDGE")
	require.NoError(t, err)
	require.NotNil(t, c)

	missing, err := s.LookupConsumable(ctx, "Hose")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Holidays(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHoliday(ctx, engine.Holiday{ID: "h2", Date: time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC), Name: "Christmas", Recurring: true}))
	require.NoError(t, s.SaveHoliday(ctx, engine.Holiday{ID: "h1", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Name: "Independence"}))

	hs, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "h1", hs[0].ID)
	assert.True(t, hs[1].Recurring)

	require.NoError(t, s.DeleteHoliday(ctx, "h1"))
	hs, err = s.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Len(t, hs, 1)
}
