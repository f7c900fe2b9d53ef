/*
Package factory provides JSON to Go report-policy conversion.

PURPOSE:
  Converts JSON report policies into engine.Descriptor overrides. Which
  report types settle stock, how many photos they need and who may delete
  them differ between deployments; the factory lets operations change the
  matrix without code changes.

JSON SCHEMA:
  {
    "edit_window_days": 3,
    "reports": [
      {
        "type": "as_complete",
        "min_photos": 2,
        "delete_requires_privileged": true
      },
      {
        "type": "remoteas_complete",
        "edit_window_days": 5
      }
    ]
  }

  Omitted fields keep the registered value. "edit_window_days" at the top
  level applies to every type before the per-type entries.

KEY FEATURES:
  - Validates stage/flag combinations
  - Rejects unknown report types
  - Round-trips through ToJSON for the admin API

USAGE:
  f := factory.NewDescriptorFactory()
  descs, err := f.ParseDescriptors(jsonString)
  if err == nil {
      err = f.Apply(descs)
  }

SEE ALSO:
  - engine/report.go: Descriptor and registry
  - reports/descriptors.go: Default matrix
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/warp/fieldservice-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyFileJSON is the top-level document.
type PolicyFileJSON struct {
	EditWindowDays *int             `json:"edit_window_days,omitempty"`
	Reports        []DescriptorJSON `json:"reports"`
}

// DescriptorJSON is the JSON representation of a descriptor override.
type DescriptorJSON struct {
	Type                     string   `json:"type"`
	Family                   *string  `json:"family,omitempty"`
	Stage                    *string  `json:"stage,omitempty"` // schedule, completion, standalone
	RequiresSettlement       *bool    `json:"requires_settlement,omitempty"`
	ReservesStock            *bool    `json:"reserves_stock,omitempty"`
	RequiredFields           []string `json:"required_fields,omitempty"`
	MinPhotos                *int     `json:"min_photos,omitempty"`
	DeleteRequiresPrivileged *bool    `json:"delete_requires_privileged,omitempty"`
	EditWindowDays           *int     `json:"edit_window_days,omitempty"`
}

// =============================================================================
// DESCRIPTOR FACTORY
// =============================================================================

// DescriptorFactory converts JSON report policies to descriptors.
type DescriptorFactory struct{}

// NewDescriptorFactory creates a new descriptor factory.
func NewDescriptorFactory() *DescriptorFactory {
	return &DescriptorFactory{}
}

// ParseDescriptors parses a policy document against the registered types.
// Only the types mentioned in the document (or all of them when the
// top-level window is set) are returned.
func (f *DescriptorFactory) ParseDescriptors(jsonStr string) ([]engine.Descriptor, error) {
	var doc PolicyFileJSON
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report policy JSON: %w", err)
	}

	current := make(map[engine.ActivityType]engine.Descriptor)
	var order []engine.ActivityType
	for _, d := range engine.ListReports() {
		if doc.EditWindowDays != nil {
			if *doc.EditWindowDays < 0 {
				return nil, fmt.Errorf("edit_window_days must not be negative")
			}
			d.EditWindowDays = *doc.EditWindowDays
			order = append(order, d.Type)
		}
		current[d.Type] = d
	}

	for _, dj := range doc.Reports {
		base, ok := current[engine.ActivityType(dj.Type)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownReportType, dj.Type)
		}
		d, err := f.FromJSON(dj, base)
		if err != nil {
			return nil, err
		}
		if !contains(order, d.Type) {
			order = append(order, d.Type)
		}
		current[d.Type] = d
	}

	out := make([]engine.Descriptor, 0, len(order))
	for _, t := range order {
		out = append(out, current[t])
	}
	return out, nil
}

// FromJSON applies a DescriptorJSON on top of base.
func (f *DescriptorFactory) FromJSON(dj DescriptorJSON, base engine.Descriptor) (engine.Descriptor, error) {
	d := base
	if dj.Type != "" {
		d.Type = engine.ActivityType(dj.Type)
	}
	if dj.Family != nil {
		d.Family = engine.Family(*dj.Family)
	}
	if dj.Stage != nil {
		stage, err := parseStage(*dj.Stage)
		if err != nil {
			return d, err
		}
		d.Stage = stage
	}
	if dj.RequiresSettlement != nil {
		d.RequiresSettlement = *dj.RequiresSettlement
	}
	if dj.ReservesStock != nil {
		d.ReservesStock = *dj.ReservesStock
	}
	if dj.RequiredFields != nil {
		d.RequiredFields = append([]string(nil), dj.RequiredFields...)
	}
	if dj.MinPhotos != nil {
		d.MinPhotos = *dj.MinPhotos
	}
	if dj.DeleteRequiresPrivileged != nil {
		d.DeleteRequiresPrivileged = *dj.DeleteRequiresPrivileged
	}
	if dj.EditWindowDays != nil {
		d.EditWindowDays = *dj.EditWindowDays
	}
	return d, validate(d)
}

// ToJSON converts a descriptor to its full JSON form.
func (f *DescriptorFactory) ToJSON(d engine.Descriptor) DescriptorJSON {
	family := string(d.Family)
	stage := string(d.Stage)
	settle, reserve, del := d.RequiresSettlement, d.ReservesStock, d.DeleteRequiresPrivileged
	photos, window := d.MinPhotos, d.EditWindowDays
	return DescriptorJSON{
		Type:                     string(d.Type),
		Family:                   &family,
		Stage:                    &stage,
		RequiresSettlement:       &settle,
		ReservesStock:            &reserve,
		RequiredFields:           append([]string(nil), d.RequiredFields...),
		MinPhotos:                &photos,
		DeleteRequiresPrivileged: &del,
		EditWindowDays:           &window,
	}
}

// Apply installs the descriptors into the registry.
func (f *DescriptorFactory) Apply(descs []engine.Descriptor) error {
	for _, d := range descs {
		if err := engine.OverrideDescriptor(d); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile parses and applies a policy file.
func (f *DescriptorFactory) LoadFile(path string) ([]engine.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report policy file: %w", err)
	}
	descs, err := f.ParseDescriptors(string(raw))
	if err != nil {
		return nil, err
	}
	return descs, f.Apply(descs)
}

// ApplyEditWindow sets the edit window of every registered type.
func (f *DescriptorFactory) ApplyEditWindow(days int) error {
	if days < 0 {
		return fmt.Errorf("edit window must not be negative: %d", days)
	}
	for _, d := range engine.ListReports() {
		d.EditWindowDays = days
		if err := engine.OverrideDescriptor(d); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseStage(s string) (engine.Stage, error) {
	switch engine.Stage(s) {
	case engine.StageSchedule, engine.StageCompletion, engine.StageStandalone:
		return engine.Stage(s), nil
	default:
		return "", fmt.Errorf("unknown stage: %s", s)
	}
}

func validate(d engine.Descriptor) error {
	switch {
	case d.RequiresSettlement && d.Stage != engine.StageCompletion:
		return fmt.Errorf("%s: only completion reports can settle stock", d.Type)
	case d.ReservesStock && d.Stage != engine.StageSchedule:
		return fmt.Errorf("%s: only schedule reports can reserve stock", d.Type)
	case d.MinPhotos < 0:
		return fmt.Errorf("%s: min_photos must not be negative", d.Type)
	case d.EditWindowDays < 0:
		return fmt.Errorf("%s: edit_window_days must not be negative", d.Type)
	case d.Family == "":
		return fmt.Errorf("%s: family is required", d.Type)
	}
	return nil
}

func contains(ts []engine.ActivityType, t engine.ActivityType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
