package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/engine/store"
	"github.com/warp/fieldservice-engine/reports"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	// Thursday 2025-03-13, 10:00 UTC.
	testNow = time.Date(2025, time.March, 13, 10, 0, 0, 0, time.UTC)

	member     = engine.Actor{ID: "tech-1", Role: engine.RoleMember, Name: "Kim"}
	otherTech  = engine.Actor{ID: "tech-2", Role: engine.RoleMember, Name: "Lee"}
	admin      = engine.Actor{ID: "admin-1", Role: engine.RoleAdmin, Name: "Park"}
	privileged = engine.Actor{ID: "boss-1", Role: engine.RolePrivileged, Name: "Choi"}
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func row(name, category string, q int64) engine.ItemSelection {
	return engine.ItemSelection{ID: name + "-row", Name: name, Category: category, Quantity: qty(q)}
}

func keyOf(name, category string) engine.ItemKey { return engine.NewItemKey(name, category) }

func asSchedule(customerID string, rows ...engine.ItemSelection) engine.Activity {
	return engine.Activity{
		CustomerID:       customerID,
		Type:             engine.TypeASSchedule,
		SelectedProducts: rows,
		Details:          reports.ASScheduleDetails{ScheduledAt: testNow, ServiceType: "repair"},
	}
}

func asComplete(customerID string, rows ...engine.ItemSelection) engine.Activity {
	return engine.Activity{
		CustomerID:       customerID,
		Type:             engine.TypeASComplete,
		SelectedProducts: rows,
		Details:          reports.ASCompleteDetails{CompletedAt: testNow, ServiceType: "repair", Resolution: "fixed"},
	}
}

type testEnv struct {
	store       *store.Memory
	coordinator *engine.Coordinator
	ids         int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reports.Register()
	env := &testEnv{store: store.NewMemory()}
	env.coordinator = engine.NewCoordinator(env.store)
	env.coordinator.NewID = func() string {
		env.ids++
		return fmt.Sprintf("act-%d", env.ids)
	}
	return env
}

func (e *testEnv) save(t *testing.T, a engine.Activity, actor engine.Actor, now time.Time) engine.Activity {
	t.Helper()
	res, err := e.coordinator.Save(context.Background(), engine.SaveCommand{Activity: a, Actor: actor, Now: now})
	require.NoError(t, err)
	return res.Activity
}

func (e *testEnv) aggregate(t *testing.T, key engine.ItemKey) engine.Aggregate {
	t.Helper()
	a, err := e.store.ReadAggregate(context.Background(), key)
	require.NoError(t, err)
	if a == nil {
		return engine.NewAggregate(key)
	}
	return *a
}

func (e *testEnv) activity(t *testing.T, id string) *engine.Activity {
	t.Helper()
	a, err := e.store.ReadActivity(context.Background(), id)
	require.NoError(t, err)
	return a
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

// conflictingStore fails the first n commits with a concurrent modification.
type conflictingStore struct {
	*store.Memory
	mu        sync.Mutex
	remaining int
	commits   int
}

func (s *conflictingStore) Commit(ctx context.Context, reads engine.ReadSet, writes engine.WriteSet) error {
	s.mu.Lock()
	s.commits++
	if s.remaining > 0 {
		s.remaining--
		s.mu.Unlock()
		return fmt.Errorf("injected: %w", engine.ErrConcurrentModification)
	}
	s.mu.Unlock()
	return s.Memory.Commit(ctx, reads, writes)
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu         sync.Mutex
	saves      []error
	conflicts  []int
	reconciles []engine.ReconcileResult
}

func (o *recordingObserver) ObserveSave(_ engine.Operation, _ engine.ActivityType, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saves = append(o.saves, err)
}

func (o *recordingObserver) ObserveConflict(_ engine.Operation, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, attempt)
}

func (o *recordingObserver) ObserveReconcile(res engine.ReconcileResult, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconciles = append(o.reconciles, res)
}

// flakyBlobs fails the upload whose 1-based position equals failAt.
type flakyBlobs struct {
	mu       sync.Mutex
	failAt   int
	uploads  int
	stored   map[string]bool
	deleted  []string
	failDels bool
}

func newFlakyBlobs(failAt int) *flakyBlobs {
	return &flakyBlobs{failAt: failAt, stored: make(map[string]bool)}
}

func (b *flakyBlobs) Upload(_ context.Context, key, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	if b.uploads == b.failAt {
		return "", fmt.Errorf("disk full")
	}
	url := "test://" + key
	b.stored[url] = true
	return url, nil
}

func (b *flakyBlobs) Delete(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, url)
	if b.failDels {
		return fmt.Errorf("delete refused")
	}
	delete(b.stored, url)
	return nil
}

func (b *flakyBlobs) live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stored)
}

// recordingScheduler collects scheduled keys.
type recordingScheduler struct {
	mu   sync.Mutex
	keys []engine.ItemKey
}

func (s *recordingScheduler) Schedule(keys ...engine.ItemKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, keys...)
}

// racingStore runs race once, just before the first commit it sees.
type racingStore struct {
	*store.Memory
	once sync.Once
	race func()
}

func (s *racingStore) Commit(ctx context.Context, reads engine.ReadSet, writes engine.WriteSet) error {
	s.once.Do(s.race)
	return s.Memory.Commit(ctx, reads, writes)
}
