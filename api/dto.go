/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Selection rows,
  movements and aggregates are served in their engine form; everything a
  client submits goes through a *Request type validated with
  go-playground/validator before it reaches the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - engine/service.go: ReportInput built from ActivityRequest
*/
package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/warp/fieldservice-engine/engine"
)

// =============================================================================
// ACTIVITIES
// =============================================================================

// UploadDTO is a file carried inline; Data is base64 in JSON.
type UploadDTO struct {
	Name        string `json:"name" validate:"required"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data" validate:"required"`
}

// ActivityRequest creates or edits a report. Photos and Attachments are the
// existing references to keep; New* are uploaded before the save.
type ActivityRequest struct {
	Type           string                 `json:"type" validate:"required"`
	Products       []engine.ItemSelection `json:"products"`
	Supplies       []engine.ItemSelection `json:"supplies"`
	Details        json.RawMessage        `json:"details"`
	Photos         []string               `json:"photos"`
	Attachments    []string               `json:"attachments"`
	NewPhotos      []UploadDTO            `json:"new_photos" validate:"dive"`
	NewAttachments []UploadDTO            `json:"new_attachments" validate:"dive"`
}

// ActivityDTO wraps an activity with the caller's edit permission.
type ActivityDTO struct {
	Activity  engine.Activity `json:"activity"`
	CanModify bool            `json:"can_modify"`
}

// SaveResponse is returned by create and edit.
type SaveResponse struct {
	Activity     engine.Activity  `json:"activity"`
	Created      bool             `json:"created"`
	AffectedKeys []engine.ItemKey `json:"affected_keys"`
}

// DeleteResponse is returned by delete.
type DeleteResponse struct {
	ID           string           `json:"id"`
	AffectedKeys []engine.ItemKey `json:"affected_keys"`
}

// =============================================================================
// SELECTIONS (BOM)
// =============================================================================

// SelectionRequest applies one BOM operation to a draft selection.
//
//	add:    Product is appended and its components expanded
//	set:    ProductID gets Quantity (0 removes it)
//	remove: ProductID is removed with its component contributions
//	sync:   every auto row is recomputed
type SelectionRequest struct {
	Op        string                `json:"op" validate:"required,oneof=add set remove sync"`
	Selection engine.Selection      `json:"selection"`
	Product   *engine.ItemSelection `json:"product" validate:"required_if=Op add"`
	ProductID string                `json:"product_id" validate:"required_if=Op set,required_if=Op remove"`
	Quantity  decimal.Decimal       `json:"quantity"`
}

// =============================================================================
// INVENTORY
// =============================================================================

// ReceiptRequest records stock intake or a write-off.
type ReceiptRequest struct {
	Name      string          `json:"name" validate:"required"`
	Category  string          `json:"category" validate:"required"`
	Direction string          `json:"direction" validate:"required,oneof=inflow outflow"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note"`
}

// ReconcileRequest names one item; an empty name reconciles every item.
type ReconcileRequest struct {
	Name     string `json:"name"`
	Category string `json:"category" validate:"required_with=Name"`
}

// ReconcileResultDTO is one reconciliation pass.
type ReconcileResultDTO struct {
	Key      engine.ItemKey   `json:"key"`
	Before   engine.Aggregate `json:"before"`
	After    engine.Aggregate `json:"after"`
	Repaired bool             `json:"repaired"`
	Skipped  bool             `json:"skipped"`
	Drift    decimal.Decimal  `json:"drift"`
}

// ReconcileResponse lists results; per-key failures are reported in Errors.
type ReconcileResponse struct {
	Results []ReconcileResultDTO `json:"results"`
	Errors  []string             `json:"errors,omitempty"`
}

// =============================================================================
// CATALOG / HOLIDAYS
// =============================================================================

// CatalogItemRequest creates or updates a catalog entry.
type CatalogItemRequest struct {
	Name        string `json:"name" validate:"required"`
	Category    string `json:"category"`
	Kind        string `json:"kind" validate:"required,oneof=product consumable"`
	Composition string `json:"composition"`
}

// HolidayRequest creates a holiday. Date is YYYY-MM-DD.
type HolidayRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required"`
	Recurring bool   `json:"recurring"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "install", "as" or "inventory"
}

// LoadScenarioRequest names the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toReconcileDTO(r engine.ReconcileResult) ReconcileResultDTO {
	return ReconcileResultDTO{
		Key:      r.Key,
		Before:   r.Before,
		After:    r.After,
		Repaired: r.Repaired,
		Skipped:  r.Skipped,
		Drift:    r.Drift(),
	}
}
