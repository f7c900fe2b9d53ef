/*
store.go - Persistence interface for the transactional document store

PURPOSE:
  Defines the boundary between the engine and the database. The platform
  primitive is a document store with point reads, an atomic commit of a
  read-set/write-set pair, and non-transactional queries used for
  discovery before a transaction starts.

OPTIMISTIC CONCURRENCY:
  Every versioned document (Activity, Aggregate, SequenceCounter) carries a
  Version. A transaction records the version of everything it read; Commit
  rejects the whole write-set with ErrConcurrentModification if any of them
  changed. Version 0 means "absent": a transaction that created a document
  fails if someone else created it first. No explicit locks are taken.

MOVEMENTS:
  Movements are immutable. They are inserted and deleted, never updated.
  A transaction that deletes a movement must have read it, and Commit
  fails if it is already gone.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - txn.go: The staged transaction built on top of this interface
*/
package engine

import "context"

// =============================================================================
// STORE - Document store with optimistic commit
// =============================================================================

// DocReader performs point reads. Missing documents return (nil, nil).
type DocReader interface {
	ReadActivity(ctx context.Context, id string) (*Activity, error)
	ReadMovement(ctx context.Context, id MovementID) (*Movement, error)
	ReadAggregate(ctx context.Context, key ItemKey) (*Aggregate, error)
	ReadCounter(ctx context.Context, key CounterKey) (*SequenceCounter, error)
}

// Store is the transactional document store.
type Store interface {
	DocReader

	// Commit atomically validates reads and applies writes.
	// Either everything is applied or nothing is.
	Commit(ctx context.Context, reads ReadSet, writes WriteSet) error

	// QueryActivities is a non-transactional query ordered by CreatedAt.
	QueryActivities(ctx context.Context, q ActivityQuery) ([]Activity, error)

	// MovementsBySource returns the movements caused by an activity.
	MovementsBySource(ctx context.Context, activityID string) ([]Movement, error)

	// MovementsByKey returns the full movement history of an item, oldest first.
	MovementsByKey(ctx context.Context, key ItemKey) ([]Movement, error)

	// ListAggregates returns every aggregate ordered by key.
	ListAggregates(ctx context.Context) ([]Aggregate, error)
}

// ActivityQuery filters activities. Zero fields match everything.
type ActivityQuery struct {
	CustomerID string
	Family     Family
	Types      []ActivityType
}

// Matches reports whether a satisfies the query.
func (q ActivityQuery) Matches(a Activity) bool {
	if q.CustomerID != "" && a.CustomerID != q.CustomerID {
		return false
	}
	if q.Family != "" && a.Type.Family() != q.Family {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if a.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// READ SET / WRITE SET
// =============================================================================

// ReadSet holds the versions observed by a transaction. 0 means absent.
type ReadSet struct {
	Activities map[string]int64
	Aggregates map[ItemKey]int64
	Counters   map[CounterKey]int64
	Movements  map[MovementID]bool
}

func newReadSet() ReadSet {
	return ReadSet{
		Activities: make(map[string]int64),
		Aggregates: make(map[ItemKey]int64),
		Counters:   make(map[CounterKey]int64),
		Movements:  make(map[MovementID]bool),
	}
}

// WriteSet holds buffered writes. Versioned documents already carry their
// next version.
type WriteSet struct {
	Activities        []Activity
	DeletedActivities []string
	Aggregates        []Aggregate
	Counters          []SequenceCounter
	Movements         []Movement
	DeletedMovements  []MovementID
}

// Empty reports whether nothing would be written.
func (w WriteSet) Empty() bool {
	return len(w.Activities) == 0 && len(w.DeletedActivities) == 0 &&
		len(w.Aggregates) == 0 && len(w.Counters) == 0 &&
		len(w.Movements) == 0 && len(w.DeletedMovements) == 0
}
