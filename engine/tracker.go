package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DELTA TRACKER - In-memory arithmetic between reads and writes
// =============================================================================

// Delta is the pending change for one aggregate.
type Delta struct {
	Baseline Aggregate
	Stock    decimal.Decimal
	Inflow   decimal.Decimal
	Outflow  decimal.Decimal
}

// Changed reports whether the delta would alter the aggregate.
func (d Delta) Changed() bool {
	return !d.Stock.IsZero() || !d.Inflow.IsZero() || !d.Outflow.IsZero()
}

// RunningStock is the stock the aggregate would hold right now.
func (d Delta) RunningStock() decimal.Decimal {
	return d.Baseline.CurrentStock.Add(d.Stock)
}

// DeltaTracker accumulates deltas against batch-read baselines so that all
// mutation arithmetic happens after the reads and before the writes.
// Only keys whose baseline was read can be tracked.
type DeltaTracker struct {
	entries map[ItemKey]*Delta
}

// NewDeltaTracker seeds the tracker with the aggregates read in the transaction.
func NewDeltaTracker(baselines map[ItemKey]Aggregate) *DeltaTracker {
	t := &DeltaTracker{entries: make(map[ItemKey]*Delta, len(baselines))}
	for k, a := range baselines {
		t.entries[k] = &Delta{
			Baseline: a,
			Stock:    decimal.Zero,
			Inflow:   decimal.Zero,
			Outflow:  decimal.Zero,
		}
	}
	return t
}

func (t *DeltaTracker) entry(key ItemKey) (*Delta, error) {
	d, ok := t.entries[key]
	if !ok {
		return nil, fmt.Errorf("aggregate %s was not read before tracking", key)
	}
	return d, nil
}

// Apply folds a new movement into the tracker and returns the stock
// snapshot after it.
func (t *DeltaTracker) Apply(key ItemKey, dir Direction, qty decimal.Decimal) (decimal.Decimal, error) {
	d, err := t.entry(key)
	if err != nil {
		return decimal.Zero, err
	}
	switch dir {
	case Inflow:
		d.Stock = d.Stock.Add(qty)
		d.Inflow = d.Inflow.Add(qty)
	case Outflow:
		d.Stock = d.Stock.Sub(qty)
		d.Outflow = d.Outflow.Add(qty)
	default:
		return decimal.Zero, fmt.Errorf("unknown direction %q", dir)
	}
	return d.RunningStock(), nil
}

// Reverse undoes a previously applied movement.
func (t *DeltaTracker) Reverse(m Movement) error {
	d, err := t.entry(m.Key)
	if err != nil {
		return err
	}
	switch m.Direction {
	case Inflow:
		d.Stock = d.Stock.Sub(m.Quantity)
		d.Inflow = d.Inflow.Sub(m.Quantity)
	case Outflow:
		d.Stock = d.Stock.Add(m.Quantity)
		d.Outflow = d.Outflow.Sub(m.Quantity)
	default:
		return fmt.Errorf("unknown direction %q", m.Direction)
	}
	return nil
}

// Get returns the pending delta for key.
func (t *DeltaTracker) Get(key ItemKey) (Delta, bool) {
	d, ok := t.entries[key]
	if !ok {
		return Delta{}, false
	}
	return *d, true
}

// Merged returns every changed aggregate with its delta folded onto the
// baseline, ordered by key.
func (t *DeltaTracker) Merged(now time.Time, action string) []Aggregate {
	keys := make([]ItemKey, 0, len(t.entries))
	for k, d := range t.entries {
		if d.Changed() {
			keys = append(keys, k)
		}
	}
	SortKeys(keys)

	out := make([]Aggregate, 0, len(keys))
	for _, k := range keys {
		d := t.entries[k]
		a := d.Baseline
		a.CurrentStock = a.CurrentStock.Add(d.Stock)
		a.TotalInflow = a.TotalInflow.Add(d.Inflow)
		a.TotalOutflow = a.TotalOutflow.Add(d.Outflow)
		a.LastUpdatedAt = now
		a.LastAction = action
		out = append(out, a)
	}
	return out
}
