/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	field-service data. Every scenario goes through the same service calls
	as the HTTP handlers, so the resulting movements and aggregates are
	exactly what real traffic would produce.

AVAILABLE SCENARIOS:

	purifier-install: BOM catalog, stock intake, install schedule + completion
	as-visit:         A/S schedule reserving parts, completion returning some
	stock-drift:      Receipts with a corrupted cached aggregate

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create catalog entries and holidays
 3. Record stock receipts
 4. Save reports as the demo actor

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "as-visit"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error helpers
  - reports/types.go: Detail variants used below
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/reports"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "purifier-install",
		Name:        "Purifier Installation",
		Description: "Purifier with a cartridge/hose BOM, stock intake, install schedule and its completion",
		Category:    "install",
	},
	{
		ID:          "as-visit",
		Name:        "A/S Visit",
		Description: "After-sales schedule reserving parts; the completion uses fewer and returns the rest",
		Category:    "as",
	},
	{
		ID:          "stock-drift",
		Name:        "Stock Drift",
		Description: "Receipts with a corrupted cached aggregate, ready for reconciliation",
		Category:    "inventory",
	},
}

// demoActor owns every report a scenario creates.
var demoActor = engine.Actor{ID: "demo-manager", Role: engine.RolePrivileged, Name: "Demo Manager"}

const demoCustomer = "cust-demo"

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"id": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "loading scenarios"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "purifier-install":
		load = h.loadPurifierInstallScenario
	case "as-visit":
		load = h.loadASVisitScenario
	case "stock-drift":
		load = h.loadStockDriftScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, "LoadScenario", "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.fail(w, "LoadScenario", fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPurifierInstallScenario(ctx context.Context) error {
	catalog := []engine.CatalogItem{
		{Name: "Purifier", Category: "water", Kind: engine.KindProduct, Composition: "2×Cartridge, Hose"},
		{Name: "Cartridge", Category: "filter", Kind: engine.KindConsumable},
		{Name: "Hose", Category: "fitting", Kind: engine.KindConsumable},
	}
	for _, item := range catalog {
		item.ID = uuid.NewString()
		if err := h.Store.SaveCatalogItem(ctx, item); err != nil {
			return err
		}
	}
	if err := h.receive(ctx, "Purifier", "water", 5); err != nil {
		return err
	}
	if err := h.receive(ctx, "Cartridge", "filter", 20); err != nil {
		return err
	}
	if err := h.receive(ctx, "Hose", "fitting", 10); err != nil {
		return err
	}

	// The draft is built the same way the report form builds it.
	sel, err := h.Expander.AddProduct(ctx, engine.Selection{}, engine.ItemSelection{
		Name:     "Purifier",
		Category: "water",
		Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = h.Service.Create(ctx, demoActor, engine.ReportInput{
		CustomerID: demoCustomer,
		Type:       engine.TypeInstallSchedule,
		Products:   sel.Products,
		Supplies:   sel.Supplies,
		Details:    reports.InstallScheduleDetails{ScheduledAt: now.AddDate(0, 0, 1), Address: "12 Riverside Rd", Installer: "Kim"},
	})
	if err != nil {
		return fmt.Errorf("install schedule: %w", err)
	}

	// One spare cartridge was used on site.
	for i := range sel.Supplies {
		if sel.Supplies[i].Name == "Cartridge" {
			sel.Supplies[i].Quantity = sel.Supplies[i].Quantity.Add(decimal.NewFromInt(1))
		}
	}
	_, err = h.Service.Create(ctx, demoActor, engine.ReportInput{
		CustomerID: demoCustomer,
		Type:       engine.TypeInstallComplete,
		Products:   sel.Products,
		Supplies:   sel.Supplies,
		Details:    reports.InstallCompleteDetails{CompletedAt: now, Installer: "Kim", Notes: "Spare cartridge fitted"},
		NewPhotos:  []engine.Upload{demoPhoto("installed.jpg")},
	})
	if err != nil {
		return fmt.Errorf("install completion: %w", err)
	}
	return nil
}

func (h *Handler) loadASVisitScenario(ctx context.Context) error {
	if err := h.Store.SaveHoliday(ctx, engine.Holiday{
		ID:        uuid.NewString(),
		Date:      time.Date(2025, time.December, 25, 0, 0, 0, 0, time.UTC),
		Name:      "Christmas",
		Recurring: true,
	}); err != nil {
		return err
	}
	if err := h.receive(ctx, "Pump", "parts", 4); err != nil {
		return err
	}
	if err := h.receive(ctx, "Valve", "parts", 6); err != nil {
		return err
	}

	now := time.Now().UTC()
	reserved := []engine.ItemSelection{
		{Name: "Pump", Category: "parts", Quantity: decimal.NewFromInt(1)},
		{Name: "Valve", Category: "parts", Quantity: decimal.NewFromInt(2)},
	}
	_, err := h.Service.Create(ctx, demoActor, engine.ReportInput{
		CustomerID: demoCustomer,
		Type:       engine.TypeASSchedule,
		Products:   reserved,
		Details:    reports.ASScheduleDetails{ScheduledAt: now, ServiceType: "repair", Symptom: "No water flow"},
	})
	if err != nil {
		return fmt.Errorf("a/s schedule: %w", err)
	}

	used := []engine.ItemSelection{
		{Name: "Pump", Category: "parts", Quantity: decimal.NewFromInt(1)},
		{Name: "Valve", Category: "parts", Quantity: decimal.NewFromInt(1)},
	}
	_, err = h.Service.Create(ctx, demoActor, engine.ReportInput{
		CustomerID: demoCustomer,
		Type:       engine.TypeASComplete,
		Products:   used,
		Details:    reports.ASCompleteDetails{CompletedAt: now, ServiceType: "repair", Resolution: "Pump replaced"},
		NewPhotos:  []engine.Upload{demoPhoto("pump.jpg")},
	})
	if err != nil {
		return fmt.Errorf("a/s completion: %w", err)
	}
	return nil
}

// loadStockDriftScenario goes to the coordinator directly so no background
// pass repairs the drift before anyone looks at it.
func (h *Handler) loadStockDriftScenario(ctx context.Context) error {
	receipts := []engine.ReceiptCommand{
		{Name: "Cartridge", Category: "filter", Direction: engine.Inflow, Quantity: decimal.NewFromInt(20), Note: "initial stock"},
		{Name: "Cartridge", Category: "filter", Direction: engine.Outflow, Quantity: decimal.NewFromInt(3), Note: "damaged in transit"},
	}
	for _, cmd := range receipts {
		cmd.ID = uuid.NewString()
		cmd.Actor = demoActor
		if _, err := h.Service.Coordinator.RecordReceipt(ctx, cmd); err != nil {
			return err
		}
	}

	// The cached total drifts; the ledger still says 17.
	key := engine.NewItemKey("Cartridge", "filter")
	agg, err := h.Store.ReadAggregate(ctx, key)
	if err != nil {
		return err
	}
	if agg == nil {
		return fmt.Errorf("aggregate %s missing after receipts", key)
	}
	drifted := *agg
	drifted.CurrentStock = decimal.NewFromInt(25)
	drifted.TotalInflow = decimal.NewFromInt(28)
	drifted.Version++
	return h.Store.Commit(ctx,
		engine.ReadSet{Aggregates: map[engine.ItemKey]int64{key: agg.Version}},
		engine.WriteSet{Aggregates: []engine.Aggregate{drifted}})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) receive(ctx context.Context, name, category string, qty int64) error {
	_, err := h.Service.RecordReceipt(ctx, engine.ReceiptCommand{
		ID:        uuid.NewString(),
		Name:      name,
		Category:  category,
		Direction: engine.Inflow,
		Quantity:  decimal.NewFromInt(qty),
		Note:      "initial stock",
		Actor:     demoActor,
	})
	return err
}

func demoPhoto(name string) engine.Upload {
	return engine.Upload{Name: name, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xd9}}
}
