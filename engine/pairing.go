package engine

import (
	"context"
	"sort"
)

// =============================================================================
// SEQUENCE ALLOCATOR
// =============================================================================

// Mint allocates the next sequence number and counts the new activity.
func (c SequenceCounter) Mint() (SequenceCounter, int64) {
	c.LastSequence++
	c.TotalCount++
	return c, c.LastSequence
}

// Join counts a new activity that inherits an existing sequence.
func (c SequenceCounter) Join() SequenceCounter {
	c.TotalCount++
	return c
}

// Release counts a deletion. LastSequence is never decremented.
func (c SequenceCounter) Release() SequenceCounter {
	if c.TotalCount > 0 {
		c.TotalCount--
	}
	return c
}

// =============================================================================
// PAIRING - Schedule <-> completion
// =============================================================================
//
// A completion pairs with the oldest schedule of the same customer and
// family that has no completion yet, so the Nth open schedule pairs with
// the Nth completion in creation order. The link is stored on both sides
// (PairedActivityID) and written inside the completion's transaction; two
// concurrent completions claiming the same schedule conflict on it.

// OpenSchedules lists unpaired schedules of a customer and family, oldest
// sequence first. Non-transactional; used for discovery only.
func OpenSchedules(ctx context.Context, store Store, customerID string, family Family) ([]Activity, error) {
	all, err := store.QueryActivities(ctx, ActivityQuery{CustomerID: customerID, Family: family})
	if err != nil {
		return nil, err
	}
	var open []Activity
	for _, a := range all {
		d, ok := LookupReport(a.Type)
		if !ok || d.Stage != StageSchedule || a.PairedActivityID != "" {
			continue
		}
		open = append(open, a)
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].SequenceNumber != open[j].SequenceNumber {
			return open[i].SequenceNumber < open[j].SequenceNumber
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

// claimSchedule re-reads the discovered candidates inside the transaction
// and returns the first one still open, or nil.
func claimSchedule(ctx context.Context, store Store, txn *Txn, customerID string, family Family) (*Activity, error) {
	candidates, err := OpenSchedules(ctx, store, customerID, family)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		a, err := txn.GetActivity(c.ID)
		if err != nil {
			return nil, err
		}
		if a != nil && a.PairedActivityID == "" {
			return a, nil
		}
	}
	return nil, nil
}

// FindPair returns the schedule and completion sharing key. Either may be nil.
func FindPair(ctx context.Context, store Store, key PairKey) (schedule, completion *Activity, err error) {
	all, err := store.QueryActivities(ctx, ActivityQuery{CustomerID: key.CustomerID, Family: key.Family})
	if err != nil {
		return nil, nil, err
	}
	for i := range all {
		a := all[i]
		if a.Pair() != key {
			continue
		}
		d, ok := LookupReport(a.Type)
		if !ok {
			continue
		}
		switch d.Stage {
		case StageSchedule:
			schedule = &a
		case StageCompletion:
			completion = &a
		}
	}
	return schedule, completion, nil
}
