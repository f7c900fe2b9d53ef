/*
scheduler.go - Detached reconciliation dispatcher

PURPOSE:
  Runs aggregate reconciliation outside the request that caused it. A
  committed save schedules its touched keys; each key is reconciled on its
  own goroutine with a timeout. Failures are logged and never retried: the
  next settlement of the key, or the periodic sweep, repairs it.

DESIGN:
  - Schedule never blocks the caller
  - Optional periodic sweep over every aggregate (SweepInterval > 0)
  - Stop waits for in-flight passes; Schedule after Stop is a no-op

USAGE:
  d := NewReconcileDispatcher(reconciler, log)
  d.SweepInterval = time.Hour
  d.Start()
  service.Reconcile = d
  // ... later
  d.Stop()

SEE ALSO:
  - engine/reconciler.go: The reconciliation pass
  - engine/service.go: Schedules keys after commit
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/fieldservice-engine/engine"
)

// DefaultReconcileTimeout bounds one detached pass.
const DefaultReconcileTimeout = 10 * time.Second

// ReconcileDispatcher implements engine.ReconcileScheduler.
type ReconcileDispatcher struct {
	Reconciler    *engine.Reconciler
	Timeout       time.Duration
	SweepInterval time.Duration
	Log           logrus.FieldLogger

	mu      sync.Mutex
	passes  sync.WaitGroup
	loop    sync.WaitGroup
	ticker  *time.Ticker
	stop    chan struct{}
	stopped bool
}

// NewReconcileDispatcher creates a dispatcher with the sweep disabled.
func NewReconcileDispatcher(rec *engine.Reconciler, log logrus.FieldLogger) *ReconcileDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReconcileDispatcher{
		Reconciler: rec,
		Timeout:    DefaultReconcileTimeout,
		Log:        log,
		stop:       make(chan struct{}),
	}
}

// Schedule reconciles each distinct key in the background.
func (d *ReconcileDispatcher) Schedule(keys ...engine.ItemKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	seen := make(map[engine.ItemKey]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		d.passes.Add(1)
		go func(key engine.ItemKey) {
			defer d.passes.Done()
			d.reconcile(key)
		}(key)
	}
}

func (d *ReconcileDispatcher) reconcile(key engine.ItemKey) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	res, err := d.Reconciler.Reconcile(ctx, key)
	log := d.Log.WithFields(logrus.Fields{"module": moduleName, "funcName": "reconcile", "key": key.String()})
	switch {
	case err != nil:
		log.Error("reconcile failed: " + err.Error())
	case res.Repaired:
		log.WithField("drift", res.Drift().String()).Warn("aggregate drift repaired")
	}
}

// Start begins the periodic sweep when SweepInterval is positive.
func (d *ReconcileDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.SweepInterval <= 0 || d.ticker != nil || d.stopped {
		return
	}
	d.ticker = time.NewTicker(d.SweepInterval)
	d.loop.Add(1)
	go d.run()

	d.Log.WithField("interval", d.SweepInterval.String()).Info("reconcile sweep started")
}

func (d *ReconcileDispatcher) run() {
	defer d.loop.Done()
	for {
		select {
		case <-d.ticker.C:
			d.Sweep()
		case <-d.stop:
			return
		}
	}
}

// Sweep reconciles every aggregate once.
func (d *ReconcileDispatcher) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout()*10)
	defer cancel()

	results, err := d.Reconciler.ReconcileAll(ctx)
	repaired := 0
	for _, res := range results {
		if res.Repaired {
			repaired++
		}
	}
	log := d.Log.WithFields(logrus.Fields{"module": moduleName, "funcName": "Sweep", "checked": len(results), "repaired": repaired})
	if err != nil {
		log.Error("sweep finished with errors: " + err.Error())
		return
	}
	if repaired > 0 {
		log.Info("sweep repaired aggregates")
	}
}

// Wait blocks until every scheduled pass has finished.
func (d *ReconcileDispatcher) Wait() {
	d.passes.Wait()
}

// Stop ends the sweep and waits for in-flight passes.
func (d *ReconcileDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.ticker != nil {
		d.ticker.Stop()
	}
	close(d.stop)
	d.mu.Unlock()

	d.loop.Wait()
	d.passes.Wait()
}

func (d *ReconcileDispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultReconcileTimeout
	}
	return d.Timeout
}
