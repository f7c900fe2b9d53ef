/*
report.go - Report types, descriptors and the details registry

PURPOSE:
  Collapses the per-report workflows into one engine parameterized by a
  small Descriptor. The engine never switches on a concrete report type;
  it asks the descriptor whether the report settles, reserves, how long it
  stays editable and who may delete it.

HOW IT WORKS:
  1. Domain packages (see reports/) define one Details variant per type
  2. They register a Descriptor and a decoder on init()
  3. Activities decode their Details through the registry, so an unknown
     type can never be persisted or loaded

SEE ALSO:
  - reports/types.go: Concrete detail variants
  - reports/descriptors.go: The default per-type matrix
  - factory/descriptor.go: JSON overrides of the matrix
*/
package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// ACTIVITY TYPES
// =============================================================================

type ActivityType string

const (
	TypeInquiry          ActivityType = "inquiry"
	TypeDemoSchedule     ActivityType = "demo_schedule"
	TypeDemoComplete     ActivityType = "demo_complete"
	TypePurchaseConfirm  ActivityType = "purchase_confirm"
	TypeInstallSchedule  ActivityType = "install_schedule"
	TypeInstallComplete  ActivityType = "install_complete"
	TypeASSchedule       ActivityType = "as_schedule"
	TypeASComplete       ActivityType = "as_complete"
	TypeRemoteASComplete ActivityType = "remoteas_complete"
)

// Family groups a schedule type with its completion type. Sequence numbers
// are allocated per customer and family.
type Family string

// Stage is the role a report plays inside its family.
type Stage string

const (
	StageStandalone Stage = "standalone"
	StageSchedule   Stage = "schedule"
	StageCompletion Stage = "completion"
)

// Family returns the registered family, or the type itself if unregistered.
func (t ActivityType) Family() Family {
	if d, ok := LookupReport(t); ok {
		return d.Family
	}
	return Family(t)
}

// =============================================================================
// DESCRIPTOR - Per-type behavior
// =============================================================================

// Descriptor parameterizes the engine for one report type.
type Descriptor struct {
	Type   ActivityType
	Family Family
	Stage  Stage

	// RequiresSettlement: completion reports diff reserved vs actual.
	RequiresSettlement bool

	// ReservesStock: schedule reports take every stock line as outflow.
	ReservesStock bool

	// RequiredFields names detail fields (as reported by Describer.Fields)
	// that must be non-empty. Checked in addition to the variant's tags.
	RequiredFields []string

	// MinPhotos is the minimum photo count required to save.
	MinPhotos int

	// DeleteRequiresPrivileged restricts deletion to the privileged role.
	DeleteRequiresPrivileged bool

	// EditWindowDays is the business-day window for edit/delete by the author.
	EditWindowDays int
}

// TracksInventory reports whether saving this type can move stock.
func (d Descriptor) TracksInventory() bool {
	return d.RequiresSettlement || d.ReservesStock
}

// =============================================================================
// DETAILS - Closed tagged union of per-type payloads
// =============================================================================

// Details is the type-specific payload of an activity. Each ActivityType
// has exactly one registered variant.
type Details interface {
	ActivityType() ActivityType
}

// Cascader is implemented by schedule details that propagate constrained
// fields to the paired completion when the schedule is edited.
type Cascader interface {
	// CascadeTo returns the completion details updated from the schedule,
	// and whether anything changed.
	CascadeTo(completion Details) (Details, bool)
}

// Describer renders details as ordered field/value pairs for change history.
type Describer interface {
	Fields() []Field
}

// Field is one rendered detail field.
type Field struct {
	Name  string
	Value string
}

// DetailsDecoder decodes the JSON payload of one report type.
type DetailsDecoder func(raw json.RawMessage) (Details, error)

// =============================================================================
// REGISTRY
// =============================================================================

type registration struct {
	descriptor Descriptor
	decode     DetailsDecoder
}

var (
	reportRegistry = make(map[ActivityType]registration)
	reportMu       sync.RWMutex
)

// RegisterReport adds or replaces a report type. Call from domain init().
func RegisterReport(d Descriptor, decode DetailsDecoder) {
	reportMu.Lock()
	defer reportMu.Unlock()
	reportRegistry[d.Type] = registration{descriptor: d, decode: decode}
}

// OverrideDescriptor replaces the descriptor of an already registered type.
func OverrideDescriptor(d Descriptor) error {
	reportMu.Lock()
	defer reportMu.Unlock()
	reg, ok := reportRegistry[d.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReportType, d.Type)
	}
	reg.descriptor = d
	reportRegistry[d.Type] = reg
	return nil
}

// LookupReport returns the descriptor of a registered type.
func LookupReport(t ActivityType) (Descriptor, bool) {
	reportMu.RLock()
	defer reportMu.RUnlock()
	reg, ok := reportRegistry[t]
	return reg.descriptor, ok
}

// ListReports returns every registered descriptor, ordered by type.
func ListReports() []Descriptor {
	reportMu.RLock()
	defer reportMu.RUnlock()
	out := make([]Descriptor, 0, len(reportRegistry))
	for _, reg := range reportRegistry {
		out = append(out, reg.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DecodeDetails decodes raw into the variant registered for t.
func DecodeDetails(t ActivityType, raw json.RawMessage) (Details, error) {
	reportMu.RLock()
	reg, ok := reportRegistry[t]
	reportMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReportType, t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	return reg.decode(raw)
}

// =============================================================================
// ACTIVITY JSON
// =============================================================================

// MarshalJSON encodes the activity with its details inline.
func (a Activity) MarshalJSON() ([]byte, error) {
	type alias Activity
	return json.Marshal(struct {
		alias
		Details Details `json:"details"`
	}{alias: alias(a), Details: a.Details})
}

// UnmarshalJSON decodes details through the registry using the type field.
func (a *Activity) UnmarshalJSON(b []byte) error {
	type alias Activity
	aux := struct {
		*alias
		Details json.RawMessage `json:"details"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d, err := DecodeDetails(a.Type, aux.Details)
	if err != nil {
		return err
	}
	a.Details = d
	return nil
}
