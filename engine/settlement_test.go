package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
)

func TestSettle_DiffsReservedAgainstActual(t *testing.T) {
	// GIVEN: 2 A and 1 B reserved, 1 A and 3 C actually used
	reserved := []engine.ItemSelection{row("A", "parts", 2), row("B", "parts", 1)}
	actual := []engine.ItemSelection{row("A", "parts", 1), row("C", "parts", 3)}

	// WHEN: Settling
	lines := engine.Settle(reserved, actual)

	// THEN: One line per key, sorted, with reserved-actual deltas
	require.Len(t, lines, 3)
	assert.Equal(t, keyOf("A", "parts"), lines[0].Key)
	assert.True(t, lines[0].Delta.Equal(qty(1)))
	assert.Equal(t, engine.Inflow, lines[0].Direction())

	assert.Equal(t, keyOf("B", "parts"), lines[1].Key)
	assert.True(t, lines[1].Delta.Equal(qty(1)))

	assert.Equal(t, keyOf("C", "parts"), lines[2].Key)
	assert.True(t, lines[2].Delta.Equal(qty(-3)))
	assert.Equal(t, engine.Outflow, lines[2].Direction())
	assert.True(t, lines[2].Quantity().Equal(qty(3)))
}

func TestSettle_Conservation(t *testing.T) {
	// GIVEN: Arbitrary reserved and actual lists, with a repeated key
	reserved := []engine.ItemSelection{row("A", "x", 5), row("B", "x", 2), row("A", "x", 1)}
	actual := []engine.ItemSelection{row("B", "x", 7), row("D", "y", 4)}

	// WHEN: Settling
	lines := engine.Settle(reserved, actual)

	// THEN: Σ delta == Σ reserved - Σ actual
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Delta)
		assert.True(t, l.Delta.Equal(l.Reserved.Sub(l.Actual)), "line %s", l.Key)
	}
	assert.True(t, sum.Equal(qty(8-11)), "got %s", sum)
}

func TestSettle_OmitsZeroDeltasAndUntrackedRows(t *testing.T) {
	// GIVEN: Equal reservation and usage, plus a free-text row without category
	reserved := []engine.ItemSelection{row("A", "x", 2)}
	actual := []engine.ItemSelection{row("A", "x", 2), {Name: "misc", Quantity: qty(9)}}

	// WHEN/THEN: Nothing to settle
	assert.Empty(t, engine.Settle(reserved, actual))
}

func TestSettle_ReservationIsAllOutflow(t *testing.T) {
	// GIVEN: A schedule with two lines
	lines := engine.Settle(nil, []engine.ItemSelection{row("B", "x", 1), row("A", "x", 2)})

	// THEN: Both lines are outflows of the full quantity
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, engine.Outflow, l.Direction())
	}
	assert.True(t, lines[0].Quantity().Equal(qty(2)))
	assert.True(t, lines[1].Quantity().Equal(qty(1)))
}

func TestDeltaTracker_MergedWritesOnlyChangedKeys(t *testing.T) {
	// GIVEN: Two baselines; one gets an outflow then its reversal nets to zero
	a, b := keyOf("A", "x"), keyOf("B", "x")
	baseA := engine.NewAggregate(a)
	baseA.CurrentStock = qty(10)
	tracker := engine.NewDeltaTracker(map[engine.ItemKey]engine.Aggregate{a: baseA, b: engine.NewAggregate(b)})

	stock, err := tracker.Apply(a, engine.Outflow, qty(3))
	require.NoError(t, err)
	assert.True(t, stock.Equal(qty(7)), "snapshot after movement")

	_, err = tracker.Apply(b, engine.Inflow, qty(2))
	require.NoError(t, err)
	require.NoError(t, tracker.Reverse(engine.Movement{Key: b, Direction: engine.Inflow, Quantity: qty(2)}))

	// WHEN: Merging
	merged := tracker.Merged(testNow, "settle:x")

	// THEN: Only A is written
	require.Len(t, merged, 1)
	assert.Equal(t, a, merged[0].Key)
	assert.True(t, merged[0].CurrentStock.Equal(qty(7)))
	assert.True(t, merged[0].TotalOutflow.Equal(qty(3)))
	assert.Equal(t, "settle:x", merged[0].LastAction)
}

func TestDeltaTracker_UnreadKeyRejected(t *testing.T) {
	tracker := engine.NewDeltaTracker(nil)
	_, err := tracker.Apply(keyOf("A", "x"), engine.Inflow, qty(1))
	assert.Error(t, err)
}
