/*
service.go - Report workflow orchestration

PURPOSE:
  The single workflow behind every report type. Each step fails before the
  next one starts, so a rejected request leaves nothing behind:

    1. validate     - fields, photos, quantities           (no I/O)
    2. authorize    - edit window and role                  (reads only)
    3. stage files  - uploads, deleted again on failure
    4. coordinate   - one atomic transaction
    5. clean up     - delete files the save removed        (logged only)
    6. reconcile    - dispatched for every touched key      (detached)
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// HolidaySource supplies the holidays the edit window skips.
type HolidaySource interface {
	ListHolidays(ctx context.Context) ([]Holiday, error)
}

// ReconcileScheduler runs reconciliation out of band.
type ReconcileScheduler interface {
	Schedule(keys ...ItemKey)
}

// ReportInput is a validated-form submission.
type ReportInput struct {
	CustomerID string
	Type       ActivityType
	Products   []ItemSelection
	Supplies   []ItemSelection
	Details    Details

	// Photos and Attachments are existing references to keep.
	Photos      []string
	Attachments []string

	NewPhotos      []Upload
	NewAttachments []Upload
}

type ReportService struct {
	Store       Store
	Coordinator *Coordinator
	Holidays    HolidaySource
	Blobs       BlobStore
	Reconcile   ReconcileScheduler
	Validate    *validator.Validate
	Log         logrus.FieldLogger
	Now         func() time.Time
}

func NewReportService(store Store, coord *Coordinator) *ReportService {
	return &ReportService{
		Store:       store,
		Coordinator: coord,
		Validate:    validator.New(),
		Log:         logrus.StandardLogger(),
	}
}

func (s *ReportService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ReportService) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// =============================================================================
// CREATE / UPDATE / DELETE
// =============================================================================

// Create validates, uploads and saves a new report.
func (s *ReportService) Create(ctx context.Context, actor Actor, in ReportInput) (SaveResult, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return SaveResult{}, &ValidationError{Problems: []string{"customer id is required"}}
	}
	if _, err := s.validateInput(in); err != nil {
		return SaveResult{}, err
	}
	return s.save(ctx, actor, "", in, nil)
}

// Update validates, authorizes and saves an edit of an existing report.
func (s *ReportService) Update(ctx context.Context, actor Actor, id string, in ReportInput) (SaveResult, error) {
	desc, err := s.validateInput(in)
	if err != nil {
		return SaveResult{}, err
	}

	existing, err := s.Store.ReadActivity(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	if existing == nil {
		return SaveResult{}, fmt.Errorf("%w: %s", ErrActivityNotFound, id)
	}
	if in.CustomerID == "" {
		in.CustomerID = existing.CustomerID
	}

	now := s.now()
	cal, err := s.calendar(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	if err := AuthorizeEdit(actor, *existing, desc, cal, now); err != nil {
		return SaveResult{}, err
	}
	return s.save(ctx, actor, id, in, existing)
}

func (s *ReportService) save(ctx context.Context, actor Actor, id string, in ReportInput, existing *Activity) (SaveResult, error) {
	staging := NewBlobStaging(s.Blobs, "customers/"+in.CustomerID)
	photos, err := staging.UploadAll(ctx, in.NewPhotos)
	if err != nil {
		return SaveResult{}, err
	}
	attachments, err := staging.UploadAll(ctx, in.NewAttachments)
	if err != nil {
		s.discard(ctx, staging)
		return SaveResult{}, err
	}

	activity := Activity{
		ID:               id,
		CustomerID:       in.CustomerID,
		Type:             in.Type,
		SelectedProducts: normalizeRows(in.Products),
		SelectedSupplies: normalizeRows(in.Supplies),
		Details:          in.Details,
		Photos:           append(append([]string(nil), in.Photos...), photos...),
		Attachments:      append(append([]string(nil), in.Attachments...), attachments...),
	}

	res, err := s.Coordinator.Save(ctx, SaveCommand{Activity: activity, Actor: actor, Now: s.now()})
	if err != nil {
		s.discard(ctx, staging)
		return SaveResult{}, err
	}

	if existing != nil {
		removed := SetDifference(existing.Photos, res.Activity.Photos)
		removed = append(removed, SetDifference(existing.Attachments, res.Activity.Attachments)...)
		s.deleteFiles(ctx, res.Activity.ID, removed)
	}
	s.schedule(res.AffectedKeys)
	return res, nil
}

// Delete authorizes and removes a report, reversing its stock effects.
func (s *ReportService) Delete(ctx context.Context, actor Actor, id string) (DeleteResult, error) {
	existing, err := s.Store.ReadActivity(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if existing == nil {
		return DeleteResult{}, fmt.Errorf("%w: %s", ErrActivityNotFound, id)
	}
	desc, ok := LookupReport(existing.Type)
	if !ok {
		return DeleteResult{}, fmt.Errorf("%w: %s", ErrUnknownReportType, existing.Type)
	}

	now := s.now()
	cal, err := s.calendar(ctx)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := AuthorizeDelete(actor, *existing, desc, cal, now); err != nil {
		return DeleteResult{}, err
	}

	res, err := s.Coordinator.Delete(ctx, DeleteCommand{ActivityID: id, Actor: actor, Now: now})
	if err != nil {
		return DeleteResult{}, err
	}
	files := append(append([]string(nil), res.Activity.Photos...), res.Activity.Attachments...)
	s.deleteFiles(ctx, id, files)
	s.schedule(res.AffectedKeys)
	return res, nil
}

// RecordReceipt records a manual stock movement and schedules its key.
func (s *ReportService) RecordReceipt(ctx context.Context, cmd ReceiptCommand) (Movement, error) {
	if cmd.Now.IsZero() {
		cmd.Now = s.now()
	}
	m, err := s.Coordinator.RecordReceipt(ctx, cmd)
	if err != nil {
		return Movement{}, err
	}
	s.schedule([]ItemKey{m.Key})
	return m, nil
}

// CanModify evaluates the edit gate for an actor against a stored report.
func (s *ReportService) CanModify(ctx context.Context, actor Actor, a Activity) (bool, error) {
	desc, ok := LookupReport(a.Type)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownReportType, a.Type)
	}
	cal, err := s.calendar(ctx)
	if err != nil {
		return false, err
	}
	return CanModify(actor, a, desc, cal, s.now()), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *ReportService) validateInput(in ReportInput) (Descriptor, error) {
	desc, ok := LookupReport(in.Type)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownReportType, in.Type)
	}

	v := &ValidationError{}
	switch {
	case in.Details == nil:
		v.Add("details are required")
	case in.Details.ActivityType() != in.Type:
		v.Add("details of type %s do not match report type %s", in.Details.ActivityType(), in.Type)
	default:
		flagged := make(map[string]bool)
		if err := s.validator().Struct(in.Details); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return Descriptor{}, err
			}
			for _, fe := range fieldErrs {
				v.Add("%s failed %s", fe.Field(), fe.Tag())
				flagged[fieldToken(fe.Field())] = true
			}
		}
		checkRequiredFields(v, desc.RequiredFields, in.Details, flagged)
	}

	checkRows(v, "product", in.Products)
	checkRows(v, "supply", in.Supplies)

	if n := len(in.Photos) + len(in.NewPhotos); n < desc.MinPhotos {
		v.Add("at least %d photo(s) required, got %d", desc.MinPhotos, n)
	}
	return desc, v.OrNil()
}

func (s *ReportService) validator() *validator.Validate {
	if s.Validate == nil {
		s.Validate = validator.New()
	}
	return s.Validate
}

// checkRequiredFields enforces the descriptor's required field list on top
// of the variant's validate tags. Fields the validator already rejected are
// not reported twice.
func checkRequiredFields(v *ValidationError, required []string, details Details, flagged map[string]bool) {
	if len(required) == 0 {
		return
	}
	values := make(map[string]string)
	if d, ok := details.(Describer); ok {
		for _, f := range d.Fields() {
			values[f.Name] = f.Value
		}
	}
	for _, name := range required {
		if strings.TrimSpace(values[name]) == "" && !flagged[fieldToken(name)] {
			v.Add("%s is required", name)
		}
	}
}

// fieldToken folds "CompletedAt" and "completed_at" to the same token.
func fieldToken(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

func checkRows(v *ValidationError, label string, rows []ItemSelection) {
	for i, r := range rows {
		if strings.TrimSpace(r.Name) == "" {
			v.Add("%s %d: name is required", label, i+1)
		}
		if r.Quantity.IsNegative() {
			v.Add("%s %d: quantity must not be negative", label, i+1)
		}
	}
}

// normalizeRows drops zero-quantity rows and assigns missing ids.
func normalizeRows(rows []ItemSelection) []ItemSelection {
	out := make([]ItemSelection, 0, len(rows))
	for _, r := range cloneSelections(rows) {
		if r.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.Name = strings.TrimSpace(r.Name)
		r.Category = strings.TrimSpace(r.Category)
		out = append(out, r)
	}
	return out
}

func (s *ReportService) calendar(ctx context.Context) (BusinessCalendar, error) {
	if s.Holidays == nil {
		return NewHolidayCalendar(nil), nil
	}
	hs, err := s.Holidays.ListHolidays(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	return NewHolidayCalendar(hs), nil
}

func (s *ReportService) discard(ctx context.Context, staging *BlobStaging) {
	staged := staging.Staged()
	if err := staging.Discard(ctx); err != nil {
		s.log().WithFields(logrus.Fields{
			"module":   "engine",
			"funcName": "discard",
			"staged":   staged,
		}).Error(err.Error())
	}
}

func (s *ReportService) deleteFiles(ctx context.Context, activityID string, urls []string) {
	if s.Blobs == nil {
		return
	}
	for _, u := range urls {
		if err := s.Blobs.Delete(ctx, u); err != nil {
			s.log().WithFields(logrus.Fields{
				"module":      "engine",
				"funcName":    "deleteFiles",
				"activity_id": activityID,
				"url":         u,
			}).Error(err.Error())
		}
	}
}

func (s *ReportService) schedule(keys []ItemKey) {
	if s.Reconcile == nil || len(keys) == 0 {
		return
	}
	s.Reconcile.Schedule(keys...)
}
