/*
reconciler.go - Self-healing recomputation of aggregates

PURPOSE:
  Aggregates are a cache. The reconciler rebuilds one from the full
  movement history of its key and overwrites the cached totals when they
  drifted (manual data fixes, historic bad writes).

PROPERTIES:
  - Idempotent: a second run with no intervening writes changes nothing.
  - Converging: if a settlement commits between the history read and the
    repair, the aggregate version no longer matches and the pass restarts
    from a fresh history read. After a few lost races it gives up; the
    next settlement or pass will repair the key.
  - Best effort: callers log failures, they never surface them.

SEE ALSO:
  - api/scheduler.go: Detached dispatch after commits and periodic sweep
  - lock/: Optional per-key locks across replicas
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReconcileAttempts bounds restarts after a lost race.
const DefaultReconcileAttempts = 3

// ErrLockNotObtained is returned by a KeyLocker when another worker holds the key.
var ErrLockNotObtained = errors.New("lock not obtained")

// KeyLocker serializes reconciliation of one key across workers.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ReconcileResult describes one pass over one key.
type ReconcileResult struct {
	Key      ItemKey
	Before   Aggregate
	After    Aggregate
	Repaired bool
	Skipped  bool
}

// Drift returns the stock correction applied by the pass.
func (r ReconcileResult) Drift() decimal.Decimal {
	return r.After.CurrentStock.Sub(r.Before.CurrentStock)
}

type Reconciler struct {
	Store    Store
	Locker   KeyLocker
	Observer Observer
	Attempts int
	Now      func() time.Time
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{Store: store, Observer: NopObserver{}, Attempts: DefaultReconcileAttempts}
}

// Recompute folds a movement history into aggregate totals.
func Recompute(key ItemKey, history []Movement) Aggregate {
	a := NewAggregate(key)
	for _, m := range history {
		a.TotalInflow = a.TotalInflow.Add(m.LastInflow())
		a.TotalOutflow = a.TotalOutflow.Add(m.LastOutflow())
		a.CurrentStock = a.CurrentStock.Add(m.Signed())
	}
	return a
}

// Reconcile recomputes one key and repairs its aggregate if it drifted.
func (r *Reconciler) Reconcile(ctx context.Context, key ItemKey) (res ReconcileResult, err error) {
	res.Key = key
	defer func() { r.observer().ObserveReconcile(res, err) }()

	if r.Locker != nil {
		unlock, lerr := r.Locker.Lock(ctx, "reconcile:"+key.String())
		if errors.Is(lerr, ErrLockNotObtained) {
			res.Skipped = true
			return res, nil
		}
		if lerr != nil {
			return res, fmt.Errorf("lock %s: %w", key, lerr)
		}
		defer unlock()
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultReconcileAttempts
	}
	for i := 0; i < attempts; i++ {
		res, err = r.pass(ctx, key)
		if !errors.Is(err, ErrSaveFailed) {
			return res, err
		}
	}
	return res, err
}

func (r *Reconciler) pass(ctx context.Context, key ItemKey) (ReconcileResult, error) {
	res := ReconcileResult{Key: key}

	before, err := r.Store.ReadAggregate(ctx, key)
	if err != nil {
		return res, err
	}
	var seen int64
	if before != nil {
		seen = before.Version
	}

	history, err := r.Store.MovementsByKey(ctx, key)
	if err != nil {
		return res, err
	}
	want := Recompute(key, history)

	err = RunTransaction(ctx, r.Store, TxOptions{MaxAttempts: 1}, func(txn *Txn) error {
		aggs, err := txn.GetAggregates([]ItemKey{key})
		if err != nil {
			return err
		}
		cur := aggs[key]
		if cur.Version != seen {
			return fmt.Errorf("aggregate %s moved during reconcile: %w", key, ErrConcurrentModification)
		}
		res.Before = cur
		res.After = cur
		if cur.SameTotals(want) {
			return nil
		}

		fixed := cur
		fixed.CurrentStock = want.CurrentStock
		fixed.TotalInflow = want.TotalInflow
		fixed.TotalOutflow = want.TotalOutflow
		fixed.LastUpdatedAt = r.now()
		fixed.LastAction = "reconcile"
		txn.PutAggregate(fixed)

		res.After = fixed
		res.Repaired = true
		return nil
	})
	return res, err
}

// ReconcileAll runs Reconcile over every aggregate key. Per-key failures
// are collected; the pass continues.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	aggs, err := r.Store.ListAggregates(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ReconcileResult, 0, len(aggs))
	var errs []error
	for _, a := range aggs {
		res, err := r.Reconcile(ctx, a.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (r *Reconciler) observer() Observer {
	if r.Observer == nil {
		return NopObserver{}
	}
	return r.Observer
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
