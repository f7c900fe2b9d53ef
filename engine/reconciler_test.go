package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
)

// corrupt overwrites an aggregate outside any settlement, as a manual data
// fix would.
func corrupt(t *testing.T, env *testEnv, key engine.ItemKey, stock int64) {
	t.Helper()
	err := engine.RunTransaction(context.Background(), env.store, engine.TxOptions{}, func(txn *engine.Txn) error {
		aggs, err := txn.GetAggregates([]engine.ItemKey{key})
		if err != nil {
			return err
		}
		a := aggs[key]
		a.CurrentStock = qty(stock)
		txn.PutAggregate(a)
		return nil
	})
	require.NoError(t, err)
}

func TestRecompute_FoldsHistory(t *testing.T) {
	key := keyOf("A", "p")
	agg := engine.Recompute(key, []engine.Movement{
		{Key: key, Direction: engine.Inflow, Quantity: qty(10)},
		{Key: key, Direction: engine.Outflow, Quantity: qty(4)},
		{Key: key, Direction: engine.Inflow, Quantity: qty(1)},
	})

	assert.True(t, agg.TotalInflow.Equal(qty(11)))
	assert.True(t, agg.TotalOutflow.Equal(qty(4)))
	assert.True(t, agg.CurrentStock.Equal(qty(7)))
}

func TestReconciler_RepairsDrift(t *testing.T) {
	// GIVEN: History says 10 in, 3 out; the cached aggregate says 42
	env := newTestEnv(t)
	ctx := context.Background()
	key := keyOf("A", "p")
	_, err := env.coordinator.RecordReceipt(ctx, engine.ReceiptCommand{ID: "r1", Name: "A", Category: "p", Direction: engine.Inflow, Quantity: qty(10), Now: testNow})
	require.NoError(t, err)
	env.save(t, asComplete("cust-1", row("A", "p", 3)), member, testNow)
	corrupt(t, env, key, 42)

	obs := &recordingObserver{}
	rec := engine.NewReconciler(env.store)
	rec.Observer = obs
	rec.Now = func() time.Time { return testNow }

	// WHEN: Reconciling
	res, err := rec.Reconcile(ctx, key)

	// THEN: The aggregate equals the recomputation and the drift is reported
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.True(t, res.Before.CurrentStock.Equal(qty(42)))
	assert.True(t, res.After.CurrentStock.Equal(qty(7)))
	assert.True(t, res.Drift().Equal(qty(-35)))

	agg := env.aggregate(t, key)
	assert.True(t, agg.CurrentStock.Equal(qty(7)))
	assert.True(t, agg.CurrentStock.Equal(agg.TotalInflow.Sub(agg.TotalOutflow)))
	assert.Equal(t, "reconcile", agg.LastAction)
	require.Len(t, obs.reconciles, 1)
}

func TestReconciler_Idempotent(t *testing.T) {
	// GIVEN: A repaired key
	env := newTestEnv(t)
	ctx := context.Background()
	key := keyOf("A", "p")
	env.save(t, asSchedule("cust-1", row("A", "p", 2)), member, testNow)
	corrupt(t, env, key, 5)
	rec := engine.NewReconciler(env.store)
	_, err := rec.Reconcile(ctx, key)
	require.NoError(t, err)
	before := env.aggregate(t, key)

	// WHEN: Reconciling again with no intervening writes
	res, err := rec.Reconcile(ctx, key)

	// THEN: Nothing changes, not even the version
	require.NoError(t, err)
	assert.False(t, res.Repaired)
	after := env.aggregate(t, key)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.CurrentStock.Equal(qty(-2)))
}

func TestReconciler_ReconcileAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.save(t, asSchedule("cust-1", row("A", "p", 2), row("B", "p", 1)), member, testNow)
	corrupt(t, env, keyOf("B", "p"), 100)

	results, err := engine.NewReconciler(env.store).ReconcileAll(ctx)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Repaired, "A was consistent")
	assert.True(t, results[1].Repaired, "B drifted")
	assert.True(t, env.aggregate(t, keyOf("B", "p")).CurrentStock.Equal(qty(-1)))
}

type heldLocker struct{ keys []string }

func (l *heldLocker) Lock(_ context.Context, key string) (func(), error) {
	l.keys = append(l.keys, key)
	return nil, engine.ErrLockNotObtained
}

func TestReconciler_HeldLockSkips(t *testing.T) {
	env := newTestEnv(t)
	key := keyOf("A", "p")
	env.save(t, asSchedule("cust-1", row("A", "p", 2)), member, testNow)
	corrupt(t, env, key, 9)

	locker := &heldLocker{}
	rec := engine.NewReconciler(env.store)
	rec.Locker = locker

	res, err := rec.Reconcile(context.Background(), key)

	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []string{"reconcile:" + key.String()}, locker.keys)
	assert.True(t, env.aggregate(t, key).CurrentStock.Equal(qty(9)), "left for the lock holder")
}

func TestReconciler_RestartsWhenSettlementLandsMidPass(t *testing.T) {
	// GIVEN: A store that lets a settlement commit right after the reconciler's first commit attempt starts
	env := newTestEnv(t)
	ctx := context.Background()
	key := keyOf("A", "p")
	env.save(t, asSchedule("cust-1", row("A", "p", 2)), member, testNow)
	corrupt(t, env, key, 50)

	racing := &racingStore{Memory: env.store, race: func() {
		env.save(t, asComplete("cust-1", row("A", "p", 1)), member, testNow)
	}}
	rec := engine.NewReconciler(racing)

	// WHEN: Reconciling
	res, err := rec.Reconcile(ctx, key)

	// THEN: The pass restarted on fresh history and the aggregate is consistent
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.True(t, env.aggregate(t, key).CurrentStock.Equal(qty(-1)))
}
