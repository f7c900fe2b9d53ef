package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/factory"
	"github.com/warp/fieldservice-engine/reports"
)

type serviceEnv struct {
	*testEnv
	svc       *engine.ReportService
	blobs     *flakyBlobs
	scheduled *recordingScheduler
	now       time.Time
}

func newServiceEnv(t *testing.T, failUploadAt int) *serviceEnv {
	t.Helper()
	env := &serviceEnv{testEnv: newTestEnv(t), blobs: newFlakyBlobs(failUploadAt), scheduled: &recordingScheduler{}, now: testNow}
	env.svc = engine.NewReportService(env.store, env.coordinator)
	env.svc.Blobs = env.blobs
	env.svc.Reconcile = env.scheduled
	env.svc.Now = func() time.Time { return env.now }
	return env
}

func photo(name string) engine.Upload {
	return engine.Upload{Name: name, ContentType: "image/jpeg", Data: []byte("jpeg")}
}

func completionInput(newPhotos ...engine.Upload) engine.ReportInput {
	return engine.ReportInput{
		CustomerID: "cust-1",
		Type:       engine.TypeASComplete,
		Products:   []engine.ItemSelection{{Name: "A", Category: "parts", Quantity: qty(2)}},
		Details:    reports.ASCompleteDetails{CompletedAt: testNow, ServiceType: "repair", Resolution: "fixed"},
		NewPhotos:  newPhotos,
	}
}

func TestReportService_Create(t *testing.T) {
	// GIVEN: A valid completion with one photo
	env := newServiceEnv(t, 0)

	// WHEN: Creating it
	res, err := env.svc.Create(context.Background(), member, completionInput(photo("site.jpg")))

	// THEN: The photo is stored, rows get ids, and the key is scheduled
	require.NoError(t, err)
	require.Len(t, res.Activity.Photos, 1)
	assert.Contains(t, res.Activity.Photos[0], "customers/cust-1/")
	assert.Contains(t, res.Activity.Photos[0], "site.jpg")
	assert.NotEmpty(t, res.Activity.SelectedProducts[0].ID)
	assert.Equal(t, member.ID, res.Activity.CreatedBy)
	assert.Equal(t, []engine.ItemKey{keyOf("A", "parts")}, env.scheduled.keys)
}

func TestReportService_ValidationBeforeAnyIO(t *testing.T) {
	// GIVEN: A completion without photos and without a resolution
	env := newServiceEnv(t, 0)
	in := completionInput()
	in.Details = reports.ASCompleteDetails{CompletedAt: testNow, ServiceType: "repair"}
	in.Supplies = []engine.ItemSelection{{Name: "", Category: "x", Quantity: qty(1)}}

	// WHEN: Creating it
	_, err := env.svc.Create(context.Background(), member, in)

	// THEN: Every problem is reported and nothing was touched
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
	assert.True(t, engine.IsClientError(err))
	assert.Equal(t, 0, env.blobs.uploads)
	all, err := env.store.QueryActivities(context.Background(), engine.ActivityQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReportService_PolicyRequiredFieldsEnforced(t *testing.T) {
	// GIVEN: A policy that also requires feedback on demo completions
	env := newServiceEnv(t, 0)
	t.Cleanup(reports.Register)
	f := factory.NewDescriptorFactory()
	descs, err := f.ParseDescriptors(`{"reports": [{"type": "demo_complete", "required_fields": ["outcome", "feedback"]}]}`)
	require.NoError(t, err)
	require.NoError(t, f.Apply(descs))

	in := engine.ReportInput{
		CustomerID: "cust-1",
		Type:       engine.TypeDemoComplete,
		Details:    reports.DemoCompleteDetails{Outcome: "interested"},
	}

	// WHEN: Creating one without feedback
	_, err = env.svc.Create(context.Background(), member, in)

	// THEN: It is rejected naming the missing field
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"feedback is required"}, verr.Problems)

	// WHEN: Feedback is supplied
	in.Details = reports.DemoCompleteDetails{Outcome: "interested", Feedback: "call back in May"}
	_, err = env.svc.Create(context.Background(), member, in)

	// THEN: It saves
	require.NoError(t, err)
}

func TestReportService_RequiredFieldNotReportedTwice(t *testing.T) {
	env := newServiceEnv(t, 0)
	in := completionInput(photo("a.jpg"))
	in.Details = reports.ASCompleteDetails{CompletedAt: testNow, ServiceType: "repair"}

	_, err := env.svc.Create(context.Background(), member, in)

	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Resolution failed required"}, verr.Problems)
}

func TestReportService_DetailsTypeMismatch(t *testing.T) {
	env := newServiceEnv(t, 0)
	in := completionInput(photo("a.jpg"))
	in.Details = reports.ASScheduleDetails{ScheduledAt: testNow, ServiceType: "repair"}

	_, err := env.svc.Create(context.Background(), member, in)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestReportService_FailedUploadDeletesBatch(t *testing.T) {
	// GIVEN: The second of two uploads fails
	env := newServiceEnv(t, 2)

	// WHEN: Creating a report with two photos
	_, err := env.svc.Create(context.Background(), member, completionInput(photo("a.jpg"), photo("b.jpg")))

	// THEN: The first upload is deleted again and nothing is saved
	assert.ErrorIs(t, err, engine.ErrUploadFailed)
	assert.Equal(t, 0, env.blobs.live())
	assert.Len(t, env.blobs.deleted, 1)
	all, err := env.store.QueryActivities(context.Background(), engine.ActivityQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReportService_FailedTransactionDeletesStagedFiles(t *testing.T) {
	// GIVEN: A store where every commit conflicts
	env := newServiceEnv(t, 0)
	flaky := &conflictingStore{Memory: env.store, remaining: 1000}
	coord := engine.NewCoordinator(flaky)
	coord.MaxAttempts = 2
	env.svc.Coordinator = coord

	// WHEN: Creating a report with a photo
	_, err := env.svc.Create(context.Background(), member, completionInput(photo("a.jpg")))

	// THEN: The save fails and the uploaded photo is gone
	assert.ErrorIs(t, err, engine.ErrSaveFailed)
	assert.Equal(t, 1, env.blobs.uploads)
	assert.Equal(t, 0, env.blobs.live())
	assert.Empty(t, env.scheduled.keys, "nothing to reconcile after a failed save")
}

func TestReportService_UpdateDeletesRemovedFiles(t *testing.T) {
	// GIVEN: A completion with two photos
	env := newServiceEnv(t, 0)
	ctx := context.Background()
	res, err := env.svc.Create(ctx, member, completionInput(photo("a.jpg"), photo("b.jpg")))
	require.NoError(t, err)
	keep, drop := res.Activity.Photos[0], res.Activity.Photos[1]

	// WHEN: The author keeps only the first
	in := completionInput()
	in.Photos = []string{keep}
	updated, err := env.svc.Update(ctx, member, res.Activity.ID, in)

	// THEN: The dropped file is deleted after the commit
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, updated.Activity.Photos)
	assert.Equal(t, []string{drop}, env.blobs.deleted)
	assert.Equal(t, 1, env.blobs.live())
	require.Len(t, updated.Activity.ModificationHistory, 1)
	assert.Contains(t, updated.Activity.ModificationHistory[0].Summary, "photos: 1 removed")
}

func TestReportService_CleanupFailureDoesNotFailSave(t *testing.T) {
	env := newServiceEnv(t, 0)
	ctx := context.Background()
	res, err := env.svc.Create(ctx, member, completionInput(photo("a.jpg"), photo("b.jpg")))
	require.NoError(t, err)
	env.blobs.failDels = true

	in := completionInput()
	in.Photos = res.Activity.Photos[:1]
	_, err = env.svc.Update(ctx, member, res.Activity.ID, in)

	assert.NoError(t, err)
}

func TestReportService_UpdateAuthorization(t *testing.T) {
	// GIVEN: A report by tech-1
	env := newServiceEnv(t, 0)
	ctx := context.Background()
	res, err := env.svc.Create(ctx, member, completionInput(photo("a.jpg")))
	require.NoError(t, err)
	uploads := env.blobs.uploads

	// WHEN: Another technician edits it with a new photo
	in := completionInput(photo("b.jpg"))
	_, err = env.svc.Update(ctx, otherTech, res.Activity.ID, in)

	// THEN: Denied before any upload
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
	assert.Equal(t, uploads, env.blobs.uploads)

	// WHEN: The author tries after the window closed
	env.now = testNow.AddDate(0, 0, 14)
	_, err = env.svc.Update(ctx, member, res.Activity.ID, in)

	// THEN: Denied
	assert.ErrorIs(t, err, engine.ErrUnauthorized)

	// AND: A privileged user may still edit
	_, err = env.svc.Update(ctx, privileged, res.Activity.ID, in)
	assert.NoError(t, err)
}

func TestReportService_Delete(t *testing.T) {
	// GIVEN: A completion with a photo; completions need privileged delete
	env := newServiceEnv(t, 0)
	ctx := context.Background()
	res, err := env.svc.Create(ctx, member, completionInput(photo("a.jpg")))
	require.NoError(t, err)

	// WHEN: The author deletes it
	_, err = env.svc.Delete(ctx, member, res.Activity.ID)

	// THEN: Denied
	assert.ErrorIs(t, err, engine.ErrUnauthorized)

	// WHEN: A privileged user deletes it
	_, err = env.svc.Delete(ctx, privileged, res.Activity.ID)

	// THEN: Activity, stock effect and photo are gone
	require.NoError(t, err)
	assert.Nil(t, env.activity(t, res.Activity.ID))
	assert.True(t, env.aggregate(t, keyOf("A", "parts")).CurrentStock.IsZero())
	assert.Equal(t, 0, env.blobs.live())

	_, err = env.svc.Delete(ctx, privileged, res.Activity.ID)
	assert.True(t, engine.IsNotFound(err))
}

func TestReportService_ZeroQuantityRowsDropped(t *testing.T) {
	env := newServiceEnv(t, 0)
	in := completionInput(photo("a.jpg"))
	in.Products = append(in.Products, engine.ItemSelection{Name: "B", Category: "parts", Quantity: qty(0)})

	res, err := env.svc.Create(context.Background(), member, in)

	require.NoError(t, err)
	require.Len(t, res.Activity.SelectedProducts, 1)
	assert.Equal(t, "A", res.Activity.SelectedProducts[0].Name)
}
