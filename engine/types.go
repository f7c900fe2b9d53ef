/*
Package engine provides the inventory settlement and reconciliation engine.

PURPOSE:
  Field-service reports (schedules and completions of installations and
  after-sales visits) reserve and consume stock. This package holds the
  domain-agnostic machinery that turns those reports into inventory
  movements, keeps the per-item aggregate consistent with the movement
  history, and repairs drift after the fact.

KEY CONCEPTS IN THIS FILE (types.go):
  - ItemKey: The (name, category) identity of a stock item
  - ItemSelection: A product or consumable row attached to a report
  - Movement: An immutable inflow/outflow record caused by one activity
  - Aggregate: Cached current stock and cumulative in/out for one item
  - SequenceCounter: Per-customer, per-family counter pairing reports
  - Activity: One persisted service report

DESIGN PRINCIPLES:
  1. Movements are authoritative, Aggregates are a cache
  2. Precision: quantities are decimal.Decimal, never float64
  3. Every stock change is attributable to a source activity
  4. Writes only happen through the Coordinator's staged transaction

SEE ALSO:
  - settlement.go: Reserved vs actual diffing
  - coordinator.go: Atomic save/delete of reports
  - reconciler.go: Aggregate recomputation from movement history
*/
package engine

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM KEY - (name, category) identity
// =============================================================================

// ItemKey identifies a stock item. It is the only serialization boundary
// for aggregate updates: two settlements contend only when they share a key.
type ItemKey string

const keySeparator = "|"

// NewItemKey builds the key from trimmed name and category.
func NewItemKey(name, category string) ItemKey {
	return ItemKey(strings.TrimSpace(name) + keySeparator + strings.TrimSpace(category))
}

// Split returns the name and category encoded in the key.
func (k ItemKey) Split() (name, category string) {
	name, category, _ = strings.Cut(string(k), keySeparator)
	return name, category
}

func (k ItemKey) String() string { return string(k) }

// SortKeys sorts keys in place and returns them.
func SortKeys(keys []ItemKey) []ItemKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// =============================================================================
// ITEM SELECTION - A row in a report's product or supply list
// =============================================================================

// ItemSelection is a product or consumable row attached to an activity.
//
// IsAuto marks a row derived from BOM expansion. LinkedIDs holds the ids of
// the product rows the auto row was derived from; on the wire it is the
// comma-joined "linked_id" string.
type ItemSelection struct {
	ID        string
	Name      string
	Category  string
	Quantity  decimal.Decimal
	IsAuto    bool
	LinkedIDs []string
}

type itemSelectionJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Quantity decimal.Decimal `json:"quantity"`
	IsAuto   bool            `json:"is_auto,omitempty"`
	LinkedID string          `json:"linked_id,omitempty"`
}

func (s ItemSelection) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemSelectionJSON{
		ID:       s.ID,
		Name:     s.Name,
		Category: s.Category,
		Quantity: s.Quantity,
		IsAuto:   s.IsAuto,
		LinkedID: s.LinkedID(),
	})
}

func (s *ItemSelection) UnmarshalJSON(b []byte) error {
	var raw itemSelectionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ItemSelection{
		ID:        raw.ID,
		Name:      raw.Name,
		Category:  raw.Category,
		Quantity:  raw.Quantity,
		IsAuto:    raw.IsAuto,
		LinkedIDs: ParseLinkedIDs(raw.LinkedID),
	}
	return nil
}

// Key returns the item key of the row.
func (s ItemSelection) Key() ItemKey { return NewItemKey(s.Name, s.Category) }

// Trackable reports whether the row participates in inventory. Rows without
// a category are free-text entries with no inventory linkage.
func (s ItemSelection) Trackable() bool {
	return strings.TrimSpace(s.Category) != "" && strings.TrimSpace(s.Name) != ""
}

// LinkedID returns the comma-joined form used by persisted documents.
func (s ItemSelection) LinkedID() string { return strings.Join(s.LinkedIDs, ",") }

// ParseLinkedIDs splits a comma-joined linked id string.
func ParseLinkedIDs(joined string) []string {
	var ids []string
	for _, id := range strings.Split(joined, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func cloneSelections(in []ItemSelection) []ItemSelection {
	if in == nil {
		return nil
	}
	out := make([]ItemSelection, len(in))
	for i, s := range in {
		s.LinkedIDs = append([]string(nil), s.LinkedIDs...)
		out[i] = s
	}
	return out
}

// =============================================================================
// MOVEMENT - Immutable ledger entry
// =============================================================================

type MovementID string

// Direction is mutually exclusive: a movement is either an inflow or an outflow.
type Direction string

const (
	Inflow  Direction = "inflow"
	Outflow Direction = "outflow"
)

// Movement records one stock-affecting event. Movements are never edited;
// when the source activity is re-saved its movements are deleted and new
// ones are written.
type Movement struct {
	ID               MovementID      `json:"id"`
	Key              ItemKey         `json:"key"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Direction        Direction       `json:"direction"`
	Quantity         decimal.Decimal `json:"quantity"`
	Stock            decimal.Decimal `json:"stock"` // point-in-time snapshot after this movement
	SourceActivityID string          `json:"source_activity_id"`
	Operator         string          `json:"operator"`
	Recipient        string          `json:"recipient,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	EditLog          string          `json:"edit_log,omitempty"`
}

// Signed returns the stock effect: +quantity for inflow, -quantity for outflow.
func (m Movement) Signed() decimal.Decimal {
	if m.Direction == Outflow {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// LastInflow returns the inflow quantity, zero for outflows.
func (m Movement) LastInflow() decimal.Decimal {
	if m.Direction == Inflow {
		return m.Quantity
	}
	return decimal.Zero
}

// LastOutflow returns the outflow quantity, zero for inflows.
func (m Movement) LastOutflow() decimal.Decimal {
	if m.Direction == Outflow {
		return m.Quantity
	}
	return decimal.Zero
}

// =============================================================================
// AGGREGATE - Derived totals per item key
// =============================================================================

// Aggregate caches totals for one item key.
//
// INVARIANT (eventual): CurrentStock == TotalInflow - TotalOutflow ==
// Σ(inflow) - Σ(outflow) over all movements sharing the key.
type Aggregate struct {
	Key           ItemKey         `json:"key"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
	TotalInflow   decimal.Decimal `json:"total_inflow"`
	TotalOutflow  decimal.Decimal `json:"total_outflow"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	LastAction    string          `json:"last_action"`
	Version       int64           `json:"-"`
}

// NewAggregate returns an empty aggregate for key.
func NewAggregate(key ItemKey) Aggregate {
	name, category := key.Split()
	return Aggregate{
		Key:          key,
		Name:         name,
		Category:     category,
		CurrentStock: decimal.Zero,
		TotalInflow:  decimal.Zero,
		TotalOutflow: decimal.Zero,
	}
}

// SameTotals reports whether both aggregates carry identical cached totals.
func (a Aggregate) SameTotals(b Aggregate) bool {
	return a.CurrentStock.Equal(b.CurrentStock) &&
		a.TotalInflow.Equal(b.TotalInflow) &&
		a.TotalOutflow.Equal(b.TotalOutflow)
}

// =============================================================================
// SEQUENCE COUNTER - Pairs schedule and completion reports
// =============================================================================

// CounterKey identifies a sequence counter.
type CounterKey struct {
	CustomerID string
	Family     Family
}

func (k CounterKey) String() string { return k.CustomerID + "/" + string(k.Family) }

// SequenceCounter is strictly increasing per key. LastSequence is never
// reused; deletions only decrement TotalCount.
type SequenceCounter struct {
	CustomerID   string `json:"customer_id"`
	Family       Family `json:"family"`
	LastSequence int64  `json:"last_sequence"`
	TotalCount   int64  `json:"total_count"`
	Version      int64  `json:"-"`
}

func (c SequenceCounter) Key() CounterKey {
	return CounterKey{CustomerID: c.CustomerID, Family: c.Family}
}

// PairKey names the schedule/completion pair sharing a sequence number.
type PairKey struct {
	CustomerID string
	Family     Family
	Sequence   int64
}

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RolePrivileged Role = "privileged"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
)

// Actor is supplied by the identity collaborator.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// =============================================================================
// ACTIVITY - One service report
// =============================================================================

// Modification is one entry of an activity's append-only change history.
type Modification struct {
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
	Summary string    `json:"summary"`
}

// Activity is a persisted service report. It is mutated only through the
// Coordinator and deleted only after its movements have been reversed.
type Activity struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customer_id"`
	Type             ActivityType    `json:"type"`
	SequenceNumber   int64           `json:"sequence_number"`
	SelectedProducts []ItemSelection `json:"selected_products"`
	SelectedSupplies []ItemSelection `json:"selected_supplies"`
	Details          Details         `json:"-"`
	Photos           []string        `json:"photos,omitempty"`
	Attachments      []string        `json:"attachments,omitempty"`

	CreatedBy   string    `json:"created_by"`
	ManagerName string    `json:"manager_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	ModificationHistory []Modification `json:"modification_history,omitempty"`

	// MovementIDs lists the movements this activity currently owns.
	MovementIDs []MovementID `json:"movement_ids,omitempty"`

	// PairedActivityID links a schedule to its completion and back.
	PairedActivityID string `json:"paired_activity_id,omitempty"`

	Revision int   `json:"revision"`
	Version  int64 `json:"-"`
}

// Pair returns the pairing key of the activity.
func (a Activity) Pair() PairKey {
	return PairKey{CustomerID: a.CustomerID, Family: a.Type.Family(), Sequence: a.SequenceNumber}
}

// StockLines returns every trackable product and supply row. These are the
// lines a schedule reserves and a completion settles.
func (a Activity) StockLines() []ItemSelection {
	var lines []ItemSelection
	for _, s := range a.SelectedProducts {
		if s.Trackable() {
			lines = append(lines, s)
		}
	}
	for _, s := range a.SelectedSupplies {
		if s.Trackable() {
			lines = append(lines, s)
		}
	}
	return lines
}

// Clone returns a deep copy safe to mutate.
func (a Activity) Clone() Activity {
	c := a
	c.SelectedProducts = cloneSelections(a.SelectedProducts)
	c.SelectedSupplies = cloneSelections(a.SelectedSupplies)
	c.Photos = append([]string(nil), a.Photos...)
	c.Attachments = append([]string(nil), a.Attachments...)
	c.ModificationHistory = append([]Modification(nil), a.ModificationHistory...)
	c.MovementIDs = append([]MovementID(nil), a.MovementIDs...)
	return c
}
