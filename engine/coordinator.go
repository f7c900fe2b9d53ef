/*
coordinator.go - Atomic save/delete of reports and their stock effects

PURPOSE:
  One entry point per state transition. Each runs a single staged
  transaction covering the activity document, its movements, every
  touched aggregate, the sequence counter and the paired activity.

SAVE (create or edit), inside one transaction:
  READS
    1. the activity (absent on create)
    2. the movements it currently owns (edit)
    3. the pair partner: open schedule to claim (create completion),
       paired schedule (edit completion), paired completion (edit schedule)
    4. the sequence counter (create)
    5. every aggregate touched by old or new movements, in one batch
  ARITHMETIC (pure, against the DeltaTracker)
    6. reverse every old movement
    7. settle (completion) or reserve (schedule) and apply new movements
    8. build the record; on edit append the diff if it is non-empty
  WRITES
    9. activity, partner, movements (insert new, delete old),
       merged aggregates, counter

  The body is a pure function of its reads: ids are fixed before the
  transaction and movement ids are activityID:revision:index, so a
  replayed body issues identical writes.

SEE ALSO:
  - txn.go: Read-before-write enforcement and retry
  - tracker.go: Delta arithmetic
  - pairing.go: Sequence allocation and schedule claiming
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	Store       Store
	MaxAttempts int
	Observer    Observer
	NewID       func() string
}

func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{Store: store, MaxAttempts: DefaultMaxAttempts, Observer: NopObserver{}}
}

func (c *Coordinator) observer() Observer {
	if c.Observer == nil {
		return NopObserver{}
	}
	return c.Observer
}

func (c *Coordinator) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Coordinator) txOptions(op Operation) TxOptions {
	obs := c.observer()
	return TxOptions{
		MaxAttempts: c.MaxAttempts,
		OnConflict:  func(attempt int) { obs.ObserveConflict(op, attempt) },
	}
}

// MovementIDFor derives the id of the index-th movement of a revision.
func MovementIDFor(activityID string, revision, index int) MovementID {
	return MovementID(fmt.Sprintf("%s:%d:%d", activityID, revision, index))
}

// =============================================================================
// SAVE
// =============================================================================

// SaveCommand creates the activity when Activity.ID is empty, otherwise
// replaces the editable fields of the stored activity.
type SaveCommand struct {
	Activity Activity
	Actor    Actor
	Now      time.Time
}

type SaveResult struct {
	Activity     Activity
	Created      bool
	AffectedKeys []ItemKey
}

// Save runs the create/edit transaction.
func (c *Coordinator) Save(ctx context.Context, cmd SaveCommand) (SaveResult, error) {
	op := OpUpdate
	if cmd.Activity.ID == "" {
		op = OpCreate
	}

	desc, ok := LookupReport(cmd.Activity.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownReportType, cmd.Activity.Type)
		c.observer().ObserveSave(op, cmd.Activity.Type, err)
		return SaveResult{}, err
	}
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}
	if op == OpCreate {
		cmd.Activity.ID = c.newID()
	}

	var result SaveResult
	err := RunTransaction(ctx, c.Store, c.txOptions(op), func(txn *Txn) error {
		var err error
		result, err = c.save(ctx, txn, desc, cmd, op == OpCreate)
		return err
	})
	c.observer().ObserveSave(op, desc.Type, err)
	if err != nil {
		return SaveResult{}, err
	}
	return result, nil
}

func (c *Coordinator) save(ctx context.Context, txn *Txn, desc Descriptor, cmd SaveCommand, create bool) (SaveResult, error) {
	next := cmd.Activity.Clone()

	// ---- READS ----

	existing, err := txn.GetActivity(next.ID)
	if err != nil {
		return SaveResult{}, err
	}
	switch {
	case create && existing != nil:
		return SaveResult{}, fmt.Errorf("activity %s already exists: %w", next.ID, ErrConcurrentModification)
	case !create && existing == nil:
		return SaveResult{}, fmt.Errorf("%w: %s", ErrActivityNotFound, next.ID)
	case !create && (existing.CustomerID != next.CustomerID || existing.Type != next.Type):
		return SaveResult{}, &ValidationError{Problems: []string{"customer and type of a report cannot change"}}
	}

	var old []Movement
	if existing != nil {
		if old, err = txn.GetMovements(existing.MovementIDs); err != nil {
			return SaveResult{}, err
		}
	}

	var schedule, completion *Activity
	switch {
	case create && desc.Stage == StageCompletion:
		schedule, err = claimSchedule(ctx, c.Store, txn, next.CustomerID, desc.Family)
	case !create && desc.Stage == StageCompletion && existing.PairedActivityID != "":
		schedule, err = txn.GetActivity(existing.PairedActivityID)
	case !create && desc.Stage == StageSchedule && existing.PairedActivityID != "":
		completion, err = txn.GetActivity(existing.PairedActivityID)
	}
	if err != nil {
		return SaveResult{}, err
	}
	if completion != nil && !sameStock(*existing, next) {
		return SaveResult{}, fmt.Errorf("%w: %s is paired with %s", ErrScheduleCompleted, existing.ID, completion.ID)
	}

	var counter SequenceCounter
	if create {
		if counter, err = txn.GetCounter(CounterKey{CustomerID: next.CustomerID, Family: desc.Family}); err != nil {
			return SaveResult{}, err
		}
	}

	var reserved []ItemSelection
	if schedule != nil {
		reserved = schedule.StockLines()
	}
	lines := planLines(desc, reserved, next)

	keys := touchedKeys(old, lines)
	aggs, err := txn.GetAggregates(keys)
	if err != nil {
		return SaveResult{}, err
	}

	// ---- ARITHMETIC ----

	tracker := NewDeltaTracker(aggs)
	for _, m := range old {
		if err := tracker.Reverse(m); err != nil {
			return SaveResult{}, err
		}
	}

	revision := 1
	if existing != nil {
		revision = existing.Revision + 1
	}
	movements, err := buildMovements(tracker, lines, next, cmd.Actor, cmd.Now, revision)
	if err != nil {
		return SaveResult{}, err
	}

	if create {
		next.CreatedBy = cmd.Actor.ID
		next.ManagerName = cmd.Actor.Name
		next.CreatedAt = cmd.Now
		next.ModificationHistory = nil
		next.PairedActivityID = ""
		if schedule != nil {
			next.SequenceNumber = schedule.SequenceNumber
			next.PairedActivityID = schedule.ID
			counter = counter.Join()
		} else {
			counter, next.SequenceNumber = counter.Mint()
		}
	} else {
		next.CreatedBy = existing.CreatedBy
		next.ManagerName = existing.ManagerName
		next.CreatedAt = existing.CreatedAt
		next.SequenceNumber = existing.SequenceNumber
		next.PairedActivityID = existing.PairedActivityID
		next.ModificationHistory = existing.ModificationHistory
		if summary := Diff(*existing, next); summary != "" {
			next.ModificationHistory = append(next.ModificationHistory, Modification{
				Actor:   actorLabel(cmd.Actor),
				At:      cmd.Now,
				Summary: summary,
			})
		}
	}
	next.UpdatedAt = cmd.Now
	next.Revision = revision
	next.MovementIDs = make([]MovementID, len(movements))
	for i, m := range movements {
		next.MovementIDs[i] = m.ID
	}

	var cascaded *Activity
	if completion != nil {
		cascaded = cascade(next, *completion, cmd.Actor, cmd.Now)
	}

	// ---- WRITES ----

	txn.PutActivity(next)
	if create && schedule != nil {
		s := *schedule
		s.PairedActivityID = next.ID
		txn.PutActivity(s)
	}
	if cascaded != nil {
		txn.PutActivity(*cascaded)
	}
	for _, m := range old {
		txn.DeleteMovement(m.ID)
	}
	for _, m := range movements {
		txn.PutMovement(m)
	}
	for _, a := range tracker.Merged(cmd.Now, actionFor(desc, create, next.ID)) {
		txn.PutAggregate(a)
	}
	if create {
		txn.PutCounter(counter)
	}

	if existing != nil {
		next.Version = existing.Version + 1
	} else {
		next.Version = 1
	}
	return SaveResult{Activity: next, Created: create, AffectedKeys: keys}, nil
}

// planLines returns the stock effect of an activity: settlement against the
// reservation for completions, full outflow for schedules, none otherwise.
func planLines(d Descriptor, reserved []ItemSelection, a Activity) []SettlementLine {
	switch {
	case d.RequiresSettlement:
		return Settle(reserved, a.StockLines())
	case d.ReservesStock:
		return Settle(nil, a.StockLines())
	}
	return nil
}

func buildMovements(tracker *DeltaTracker, lines []SettlementLine, a Activity, actor Actor, now time.Time, revision int) ([]Movement, error) {
	var editLog string
	if revision > 1 {
		editLog = fmt.Sprintf("revision %d by %s", revision, actorLabel(actor))
	}

	movements := make([]Movement, 0, len(lines))
	for i, l := range lines {
		stock, err := tracker.Apply(l.Key, l.Direction(), l.Quantity())
		if err != nil {
			return nil, err
		}
		name, category := l.Key.Split()
		movements = append(movements, Movement{
			ID:               MovementIDFor(a.ID, revision, i),
			Key:              l.Key,
			Name:             name,
			Category:         category,
			Direction:        l.Direction(),
			Quantity:         l.Quantity(),
			Stock:            stock,
			SourceActivityID: a.ID,
			Operator:         actorLabel(actor),
			Recipient:        a.CustomerID,
			CreatedAt:        now,
			EditLog:          editLog,
		})
	}
	return movements, nil
}

// cascade propagates constrained schedule fields into the paired completion.
func cascade(schedule, completion Activity, actor Actor, now time.Time) *Activity {
	cas, ok := schedule.Details.(Cascader)
	if !ok {
		return nil
	}
	details, changed := cas.CascadeTo(completion.Details)
	if !changed {
		return nil
	}
	updated := completion.Clone()
	updated.Details = details
	updated.UpdatedAt = now
	if summary := Diff(completion, updated); summary != "" {
		updated.ModificationHistory = append(updated.ModificationHistory, Modification{
			Actor:   actorLabel(actor),
			At:      now,
			Summary: "from schedule " + schedule.ID + ": " + summary,
		})
	}
	return &updated
}

func sameStock(a, b Activity) bool {
	x, y := Reduce(a.StockLines()), Reduce(b.StockLines())
	if len(x) != len(y) {
		return false
	}
	for k, q := range x {
		if other, ok := y[k]; !ok || !other.Equal(q) {
			return false
		}
	}
	return true
}

func touchedKeys(old []Movement, lines []SettlementLine) []ItemKey {
	seen := make(map[ItemKey]bool)
	var keys []ItemKey
	for _, m := range old {
		if !seen[m.Key] {
			seen[m.Key] = true
			keys = append(keys, m.Key)
		}
	}
	for _, l := range lines {
		if !seen[l.Key] {
			seen[l.Key] = true
			keys = append(keys, l.Key)
		}
	}
	return SortKeys(keys)
}

func actionFor(d Descriptor, create bool, id string) string {
	switch {
	case !create:
		return "edit:" + id
	case d.RequiresSettlement:
		return "settle:" + id
	default:
		return "reserve:" + id
	}
}

func actorLabel(a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// =============================================================================
// DELETE
// =============================================================================

type DeleteCommand struct {
	ActivityID string
	Actor      Actor
	Now        time.Time
}

type DeleteResult struct {
	Activity     Activity
	AffectedKeys []ItemKey
}

// Delete reverses every movement of the activity and removes it. Deleting a
// completion reopens its schedule; deleting a paired schedule is rejected.
func (c *Coordinator) Delete(ctx context.Context, cmd DeleteCommand) (DeleteResult, error) {
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}

	var result DeleteResult
	var typ ActivityType
	err := RunTransaction(ctx, c.Store, c.txOptions(OpDelete), func(txn *Txn) error {
		existing, err := txn.GetActivity(cmd.ActivityID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", ErrActivityNotFound, cmd.ActivityID)
		}
		typ = existing.Type
		desc, ok := LookupReport(existing.Type)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownReportType, existing.Type)
		}

		old, err := txn.GetMovements(existing.MovementIDs)
		if err != nil {
			return err
		}

		var partner *Activity
		if existing.PairedActivityID != "" {
			if desc.Stage == StageSchedule {
				return fmt.Errorf("%w: delete completion %s first", ErrScheduleCompleted, existing.PairedActivityID)
			}
			if partner, err = txn.GetActivity(existing.PairedActivityID); err != nil {
				return err
			}
		}

		counter, err := txn.GetCounter(CounterKey{CustomerID: existing.CustomerID, Family: desc.Family})
		if err != nil {
			return err
		}

		keys := touchedKeys(old, nil)
		aggs, err := txn.GetAggregates(keys)
		if err != nil {
			return err
		}

		tracker := NewDeltaTracker(aggs)
		for _, m := range old {
			if err := tracker.Reverse(m); err != nil {
				return err
			}
		}

		txn.DeleteActivity(existing.ID)
		for _, m := range old {
			txn.DeleteMovement(m.ID)
		}
		for _, a := range tracker.Merged(cmd.Now, "reverse:"+existing.ID) {
			txn.PutAggregate(a)
		}
		if partner != nil {
			p := *partner
			p.PairedActivityID = ""
			txn.PutActivity(p)
		}
		txn.PutCounter(counter.Release())

		result = DeleteResult{Activity: *existing, AffectedKeys: keys}
		return nil
	})
	c.observer().ObserveSave(OpDelete, typ, err)
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// =============================================================================
// RECEIPT - Stock intake and write-off outside reports
// =============================================================================

type ReceiptCommand struct {
	ID        string
	Name      string
	Category  string
	Direction Direction
	Quantity  decimal.Decimal
	Note      string
	Actor     Actor
	Now       time.Time
}

// Validate checks the command before any I/O.
func (r ReceiptCommand) Validate() error {
	v := &ValidationError{}
	sel := ItemSelection{Name: r.Name, Category: r.Category}
	if !sel.Trackable() {
		v.Add("name and category are required")
	}
	if r.Direction != Inflow && r.Direction != Outflow {
		v.Add("direction must be %q or %q", Inflow, Outflow)
	}
	if !r.Quantity.IsPositive() {
		v.Add("quantity must be positive")
	}
	return v.OrNil()
}

// RecordReceipt writes one manual movement. Replaying a receipt id is a no-op
// that returns the stored movement.
func (c *Coordinator) RecordReceipt(ctx context.Context, cmd ReceiptCommand) (Movement, error) {
	if err := cmd.Validate(); err != nil {
		c.observer().ObserveSave(OpReceipt, "", err)
		return Movement{}, err
	}
	if cmd.ID == "" {
		cmd.ID = c.newID()
	}
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}
	source := "receipt:" + cmd.ID
	id := MovementID(source)
	key := NewItemKey(cmd.Name, cmd.Category)

	var result Movement
	err := RunTransaction(ctx, c.Store, c.txOptions(OpReceipt), func(txn *Txn) error {
		existing, err := txn.GetMovements([]MovementID{id})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result = existing[0]
			return nil
		}
		aggs, err := txn.GetAggregates([]ItemKey{key})
		if err != nil {
			return err
		}

		tracker := NewDeltaTracker(aggs)
		stock, err := tracker.Apply(key, cmd.Direction, cmd.Quantity)
		if err != nil {
			return err
		}
		name, category := key.Split()
		result = Movement{
			ID:               id,
			Key:              key,
			Name:             name,
			Category:         category,
			Direction:        cmd.Direction,
			Quantity:         cmd.Quantity,
			Stock:            stock,
			SourceActivityID: source,
			Operator:         actorLabel(cmd.Actor),
			CreatedAt:        cmd.Now,
			EditLog:          cmd.Note,
		}

		txn.PutMovement(result)
		for _, a := range tracker.Merged(cmd.Now, source) {
			txn.PutAggregate(a)
		}
		return nil
	})
	c.observer().ObserveSave(OpReceipt, "", err)
	if err != nil {
		return Movement{}, err
	}
	return result, nil
}
