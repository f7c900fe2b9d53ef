package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds transparent retries of a conflicting transaction.
const DefaultMaxAttempts = 5

// =============================================================================
// TXN - Staged transaction: all reads, then all writes
// =============================================================================

// Txn is handed to a transaction body. Reads are point reads that record
// the observed version; writes are buffered until commit.
//
// INVARIANT: every read is issued before the first write. A read after a
// write fails with ErrReadAfterWrite, so a body is always a pure function
// of its reads and can be replayed on conflict.
type Txn struct {
	ctx     context.Context
	reader  DocReader
	reads   ReadSet
	writes  WriteSet
	writing bool
	err     error
}

func newTxn(ctx context.Context, reader DocReader) *Txn {
	return &Txn{ctx: ctx, reader: reader, reads: newReadSet()}
}

func (t *Txn) beginRead() error {
	if t.writing {
		return ErrReadAfterWrite
	}
	return nil
}

// GetActivity reads an activity. Returns (nil, nil) when absent.
func (t *Txn) GetActivity(id string) (*Activity, error) {
	if err := t.beginRead(); err != nil {
		return nil, err
	}
	a, err := t.reader.ReadActivity(t.ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		t.reads.Activities[id] = 0
		return nil, nil
	}
	t.reads.Activities[id] = a.Version
	c := a.Clone()
	return &c, nil
}

// GetMovements reads movements by id. Movements that no longer exist are
// skipped; their effect is left to the reconciler.
func (t *Txn) GetMovements(ids []MovementID) ([]Movement, error) {
	if err := t.beginRead(); err != nil {
		return nil, err
	}
	var out []Movement
	for _, id := range ids {
		m, err := t.reader.ReadMovement(t.ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		t.reads.Movements[id] = true
		out = append(out, *m)
	}
	return out, nil
}

// GetAggregates batch-reads aggregates. Missing keys yield an empty
// aggregate with version 0.
func (t *Txn) GetAggregates(keys []ItemKey) (map[ItemKey]Aggregate, error) {
	if err := t.beginRead(); err != nil {
		return nil, err
	}
	out := make(map[ItemKey]Aggregate, len(keys))
	for _, key := range keys {
		if _, seen := out[key]; seen {
			continue
		}
		a, err := t.reader.ReadAggregate(t.ctx, key)
		if err != nil {
			return nil, err
		}
		if a == nil {
			out[key] = NewAggregate(key)
			t.reads.Aggregates[key] = 0
			continue
		}
		out[key] = *a
		t.reads.Aggregates[key] = a.Version
	}
	return out, nil
}

// GetCounter reads a sequence counter, zero-valued when absent.
func (t *Txn) GetCounter(key CounterKey) (SequenceCounter, error) {
	if err := t.beginRead(); err != nil {
		return SequenceCounter{}, err
	}
	c, err := t.reader.ReadCounter(t.ctx, key)
	if err != nil {
		return SequenceCounter{}, err
	}
	if c == nil {
		t.reads.Counters[key] = 0
		return SequenceCounter{CustomerID: key.CustomerID, Family: key.Family}, nil
	}
	t.reads.Counters[key] = c.Version
	return *c, nil
}

// PutActivity creates or replaces an activity.
func (t *Txn) PutActivity(a Activity) {
	t.writing = true
	expected, read := t.reads.Activities[a.ID]
	if !read {
		t.reads.Activities[a.ID] = 0
	}
	a.Version = expected + 1
	t.writes.Activities = append(t.writes.Activities, a.Clone())
}

// DeleteActivity deletes an activity that was read by this transaction.
func (t *Txn) DeleteActivity(id string) {
	t.writing = true
	if _, read := t.reads.Activities[id]; !read {
		t.fail(fmt.Errorf("delete of unread activity %s", id))
		return
	}
	t.writes.DeletedActivities = append(t.writes.DeletedActivities, id)
}

// PutAggregate writes an aggregate that was read by this transaction.
func (t *Txn) PutAggregate(a Aggregate) {
	t.writing = true
	expected, read := t.reads.Aggregates[a.Key]
	if !read {
		t.fail(fmt.Errorf("write of unread aggregate %s", a.Key))
		return
	}
	a.Version = expected + 1
	t.writes.Aggregates = append(t.writes.Aggregates, a)
}

// PutCounter writes a counter that was read by this transaction.
func (t *Txn) PutCounter(c SequenceCounter) {
	t.writing = true
	expected, read := t.reads.Counters[c.Key()]
	if !read {
		t.fail(fmt.Errorf("write of unread counter %s", c.Key()))
		return
	}
	c.Version = expected + 1
	t.writes.Counters = append(t.writes.Counters, c)
}

// PutMovement inserts a new movement.
func (t *Txn) PutMovement(m Movement) {
	t.writing = true
	t.writes.Movements = append(t.writes.Movements, m)
}

// DeleteMovement deletes a movement that was read by this transaction.
func (t *Txn) DeleteMovement(id MovementID) {
	t.writing = true
	if !t.reads.Movements[id] {
		t.fail(fmt.Errorf("delete of unread movement %s", id))
		return
	}
	t.writes.DeletedMovements = append(t.writes.DeletedMovements, id)
}

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

// =============================================================================
// RUN TRANSACTION - Commit with transparent retry
// =============================================================================

// TxOptions tunes RunTransaction.
type TxOptions struct {
	MaxAttempts int
	// OnConflict is called after every conflicting attempt.
	OnConflict func(attempt int)
}

// RunTransaction runs fn against a fresh Txn and commits its writes,
// replaying fn when the commit conflicts. Errors returned by fn abort
// without retry unless they wrap ErrConcurrentModification.
func RunTransaction(ctx context.Context, store Store, opts TxOptions, fn func(*Txn) error) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txn := newTxn(ctx, store)
		err := fn(txn)
		if err == nil {
			err = txn.err
		}
		if err == nil && !txn.writes.Empty() {
			err = store.Commit(ctx, txn.reads, txn.writes)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}

		lastErr = err
		if opts.OnConflict != nil {
			opts.OnConflict(attempt)
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrSaveFailed, attempts, lastErr)
}
