package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT - Reserved vs actual
// =============================================================================

// SettlementLine is the nonzero delta for one item key.
//
//	Delta > 0: reserved but not used, stock comes back (inflow)
//	Delta < 0: used beyond the reservation (outflow of |Delta|)
type SettlementLine struct {
	Key      ItemKey
	Reserved decimal.Decimal
	Actual   decimal.Decimal
	Delta    decimal.Decimal
}

// Direction returns the movement direction the line produces.
func (l SettlementLine) Direction() Direction {
	if l.Delta.IsPositive() {
		return Inflow
	}
	return Outflow
}

// Quantity returns |Delta|.
func (l SettlementLine) Quantity() decimal.Decimal { return l.Delta.Abs() }

// Reduce sums quantities per item key. Rows without a category are not
// inventory-linked and are dropped.
func Reduce(items []ItemSelection) map[ItemKey]decimal.Decimal {
	out := make(map[ItemKey]decimal.Decimal)
	for _, it := range items {
		if !it.Trackable() {
			continue
		}
		k := it.Key()
		out[k] = out[k].Add(it.Quantity)
	}
	return out
}

// Settle diffs reserved against actual over the union of their keys.
// Lines are sorted by key; zero deltas are omitted. Pure.
//
// A schedule reservation is Settle(nil, lines): every line is an outflow.
func Settle(reserved, actual []ItemSelection) []SettlementLine {
	r := Reduce(reserved)
	a := Reduce(actual)

	keys := make([]ItemKey, 0, len(r)+len(a))
	for k := range r {
		keys = append(keys, k)
	}
	for k := range a {
		if _, ok := r[k]; !ok {
			keys = append(keys, k)
		}
	}
	SortKeys(keys)

	var lines []SettlementLine
	for _, k := range keys {
		delta := r[k].Sub(a[k])
		if delta.IsZero() {
			continue
		}
		lines = append(lines, SettlementLine{Key: k, Reserved: r[k], Actual: a[k], Delta: delta})
	}
	return lines
}
