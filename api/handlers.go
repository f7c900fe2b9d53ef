/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes report workflows, inventory reads and admin operations via REST.
  Handles HTTP request/response, JSON serialization and input validation,
  and delegates to engine.ReportService for everything that writes.

ENDPOINTS:
  Activities:
    POST   /api/customers/{customerID}/activities  Create report
    GET    /api/customers/{customerID}/activities  List reports (?family=)
    GET    /api/activities/{id}                    Get report
    PUT    /api/activities/{id}                    Edit report
    DELETE /api/activities/{id}                    Delete report
    GET    /api/activities/{id}/movements          Movements of a report

  Inventory:
    POST   /api/selections                         BOM operation on a draft
    GET    /api/inventory/aggregates               Cached totals
    GET    /api/inventory/movements                History (?name=&category=)
    POST   /api/inventory/receipts                 Stock intake / write-off
    POST   /api/inventory/reconcile                Reconcile one item or all

  Reference data:
    GET|POST /api/catalog, GET|POST /api/holidays, DELETE /api/holidays/{id}

  Demo (scenarios.go):
    GET /api/scenarios, GET /api/scenarios/current, POST /api/scenarios/load

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown report type
  - 401: Missing identity
  - 403: Edit window expired, role
  - 404: Resource not found
  - 409: Save failed after retries, completed schedule
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Actor headers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/store/sqlite"
)

const moduleName = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Service    *engine.ReportService
	Reconciler *engine.Reconciler
	Expander   engine.Expander
	Log        logrus.FieldLogger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the store. The store doubles as the
// catalog for BOM expansion.
func NewHandler(store *sqlite.Store, svc *engine.ReportService, rec *engine.Reconciler, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:      store,
		Service:    svc,
		Reconciler: rec,
		Expander:   engine.Expander{Catalog: store},
		Log:        log,
		validate:   validator.New(),
	}
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// CreateActivity creates a report for a customer.
func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	in, ok := h.decodeActivity(w, r)
	if !ok {
		return
	}
	in.CustomerID = chi.URLParam(r, "customerID")

	res, err := h.Service.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "CreateActivity", "Failed to create activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, SaveResponse{Activity: res.Activity, Created: true, AffectedKeys: nonNilKeys(res.AffectedKeys)})
}

// ListActivities returns a customer's reports, oldest first.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	q := engine.ActivityQuery{
		CustomerID: chi.URLParam(r, "customerID"),
		Family:     engine.Family(r.URL.Query().Get("family")),
	}
	acts, err := h.Store.QueryActivities(r.Context(), q)
	if err != nil {
		h.fail(w, "ListActivities", "Failed to list activities", err)
		return
	}
	if acts == nil {
		acts = []engine.Activity{}
	}
	writeJSON(w, http.StatusOK, acts)
}

// GetActivity returns one report and whether the caller may modify it.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	a, err := h.Store.ReadActivity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "GetActivity", "Failed to get activity", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Activity not found", nil)
		return
	}
	can, err := h.Service.CanModify(r.Context(), actor, *a)
	if err != nil {
		h.fail(w, "GetActivity", "Failed to evaluate edit window", err)
		return
	}
	writeJSON(w, http.StatusOK, ActivityDTO{Activity: *a, CanModify: can})
}

// UpdateActivity edits a report.
func (h *Handler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	in, ok := h.decodeActivity(w, r)
	if !ok {
		return
	}

	res, err := h.Service.Update(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "UpdateActivity", "Failed to update activity", err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{Activity: res.Activity, AffectedKeys: nonNilKeys(res.AffectedKeys)})
}

// DeleteActivity deletes a report and reverses its movements.
func (h *Handler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")

	res, err := h.Service.Delete(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "DeleteActivity", "Failed to delete activity", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{ID: id, AffectedKeys: nonNilKeys(res.AffectedKeys)})
}

// GetActivityMovements returns the movements a report currently owns.
func (h *Handler) GetActivityMovements(w http.ResponseWriter, r *http.Request) {
	mvs, err := h.Store.MovementsBySource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "GetActivityMovements", "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilMovements(mvs))
}

func (h *Handler) decodeActivity(w http.ResponseWriter, r *http.Request) (engine.ReportInput, bool) {
	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return engine.ReportInput{}, false
	}
	t := engine.ActivityType(req.Type)
	details, err := engine.DecodeDetails(t, req.Details)
	if err != nil {
		writeError(w, statusFor(err), "Invalid details", err)
		return engine.ReportInput{}, false
	}
	return engine.ReportInput{
		Type:           t,
		Products:       req.Products,
		Supplies:       req.Supplies,
		Details:        details,
		Photos:         req.Photos,
		Attachments:    req.Attachments,
		NewPhotos:      toUploads(req.NewPhotos),
		NewAttachments: toUploads(req.NewAttachments),
	}, true
}

// =============================================================================
// SELECTION HANDLER
// =============================================================================

// UpdateSelection applies one BOM operation to a draft and returns it.
func (h *Handler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		sel engine.Selection
		err error
	)
	ctx := r.Context()
	switch req.Op {
	case "add":
		product := *req.Product
		if product.ID == "" {
			product.ID = uuid.NewString()
		}
		sel, err = h.Expander.AddProduct(ctx, req.Selection, product)
	case "set":
		sel, err = h.Expander.SetProductQuantity(ctx, req.Selection, req.ProductID, req.Quantity)
	case "remove":
		sel, err = h.Expander.RemoveProduct(ctx, req.Selection, req.ProductID)
	case "sync":
		sel, err = h.Expander.Sync(ctx, req.Selection)
	}
	if err != nil {
		h.fail(w, "UpdateSelection", "Failed to update selection", err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListAggregates returns every cached aggregate ordered by key.
func (h *Handler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.Store.ListAggregates(r.Context())
	if err != nil {
		h.fail(w, "ListAggregates", "Failed to list aggregates", err)
		return
	}
	if aggs == nil {
		aggs = []engine.Aggregate{}
	}
	writeJSON(w, http.StatusOK, aggs)
}

// GetItemMovements returns the full history of one item, oldest first.
func (h *Handler) GetItemMovements(w http.ResponseWriter, r *http.Request) {
	name, category := r.URL.Query().Get("name"), r.URL.Query().Get("category")
	if name == "" || category == "" {
		writeError(w, http.StatusBadRequest, "name and category are required", nil)
		return
	}
	mvs, err := h.Store.MovementsByKey(r.Context(), engine.NewItemKey(name, category))
	if err != nil {
		h.fail(w, "GetItemMovements", "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilMovements(mvs))
}

// RecordReceipt records stock intake or a write-off outside any report.
func (h *Handler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "recording receipts"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	var req ReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, err := h.Service.RecordReceipt(r.Context(), engine.ReceiptCommand{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Category:  req.Category,
		Direction: engine.Direction(req.Direction),
		Quantity:  req.Quantity,
		Note:      req.Note,
		Actor:     actor,
	})
	if err != nil {
		h.fail(w, "RecordReceipt", "Failed to record receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Reconcile repairs one item, or every item when no name is given.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "reconciliation"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}

	var resp ReconcileResponse
	if req.Name != "" {
		res, err := h.Reconciler.Reconcile(r.Context(), engine.NewItemKey(req.Name, req.Category))
		if err != nil {
			h.fail(w, "Reconcile", "Failed to reconcile", err)
			return
		}
		resp.Results = []ReconcileResultDTO{toReconcileDTO(res)}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	results, err := h.Reconciler.ReconcileAll(r.Context())
	resp.Results = make([]ReconcileResultDTO, 0, len(results))
	for _, res := range results {
		resp.Results = append(resp.Results, toReconcileDTO(res))
	}
	if err != nil {
		if results == nil {
			h.fail(w, "Reconcile", "Failed to reconcile", err)
			return
		}
		resp.Errors = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListCatalog returns catalog entries (?kind=product|consumable).
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListCatalogItems(r.Context(), engine.ItemKind(r.URL.Query().Get("kind")))
	if err != nil {
		h.fail(w, "ListCatalog", "Failed to list catalog", err)
		return
	}
	if items == nil {
		items = []engine.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateCatalogItem creates or updates a catalog entry.
func (h *Handler) CreateCatalogItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "catalog changes"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	var req CatalogItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item := engine.CatalogItem{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Category:    req.Category,
		Kind:        engine.ItemKind(req.Kind),
		Composition: req.Composition,
	}
	if err := h.Store.SaveCatalogItem(r.Context(), item); err != nil {
		h.fail(w, "CreateCatalogItem", "Failed to save catalog item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

// ListHolidays returns all holidays ordered by date.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.fail(w, "ListHolidays", "Failed to list holidays", err)
		return
	}
	if holidays == nil {
		holidays = []engine.Holiday{}
	}
	writeJSON(w, http.StatusOK, holidays)
}

// CreateHoliday adds a holiday to the edit-window calendar.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "holiday changes"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	var req HolidayRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	holiday := engine.Holiday{ID: uuid.NewString(), Date: date, Name: req.Name, Recurring: req.Recurring}
	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		h.fail(w, "CreateHoliday", "Failed to save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, holiday)
}

// DeleteHoliday removes a holiday.
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := requireManager(actor, "holiday changes"); err != nil {
		writeError(w, http.StatusForbidden, "Not authorized", err)
		return
	}
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "DeleteHoliday", "Failed to delete holiday", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// fail maps err to a status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, funcName, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{"module": moduleName, "funcName": funcName}).Error(err.Error())
	}
	writeError(w, status, message, err)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrUnknownReportType):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsRetryable(err), errors.Is(err, engine.ErrScheduleCompleted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func toUploads(in []UploadDTO) []engine.Upload {
	if len(in) == 0 {
		return nil
	}
	out := make([]engine.Upload, len(in))
	for i, u := range in {
		out[i] = engine.Upload{Name: u.Name, ContentType: u.ContentType, Data: u.Data}
	}
	return out
}

func nonNilKeys(keys []engine.ItemKey) []engine.ItemKey {
	if keys == nil {
		return []engine.ItemKey{}
	}
	return keys
}

func nonNilMovements(mvs []engine.Movement) []engine.Movement {
	if mvs == nil {
		return []engine.Movement{}
	}
	return mvs
}

// splitJoined unpacks an errors.Join result into messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{fmt.Sprint(err)}
}
