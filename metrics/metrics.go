/*
Package metrics exports engine outcomes to Prometheus.

PURPOSE:
  Recorder implements engine.Observer. Saves are counted per operation,
  report type and outcome; conflicts per operation; reconciliation passes
  per result with a histogram of the stock drift they repaired.

USAGE:
  rec := metrics.NewRecorder(prometheus.NewRegistry())
  coordinator.Observer = rec
  router.Handle("/metrics", rec.Handler())

SEE ALSO:
  - engine/observer.go: The Observer interface
*/
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/fieldservice-engine/engine"
)

const namespace = "fieldservice"

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeRepaired  = "repaired"
	OutcomeClean     = "clean"
	OutcomeSkipped   = "skipped"
	OutcomeExhausted = "exhausted"
)

type Recorder struct {
	gatherer prometheus.Gatherer

	saves      *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	reconciles *prometheus.CounterVec
	drift      prometheus.Histogram
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		gatherer: reg,
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_saves_total",
			Help:      "Coordinator operations by operation, report type and outcome.",
		}, []string{"operation", "type", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_conflicts_total",
			Help:      "Optimistic commit conflicts that caused a retry.",
		}, []string{"operation"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Aggregate reconciliation passes by outcome.",
		}, []string{"outcome"}),
		drift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_drift_abs",
			Help:      "Absolute stock correction applied by repairing passes.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 500},
		}),
	}
	reg.MustRegister(r.saves, r.conflicts, r.reconciles, r.drift)
	return r
}

func (r *Recorder) ObserveSave(op engine.Operation, t engine.ActivityType, err error) {
	r.saves.WithLabelValues(string(op), string(t), saveOutcome(err)).Inc()
}

func (r *Recorder) ObserveConflict(op engine.Operation, _ int) {
	r.conflicts.WithLabelValues(string(op)).Inc()
}

func (r *Recorder) ObserveReconcile(res engine.ReconcileResult, err error) {
	switch {
	case errors.Is(err, engine.ErrSaveFailed):
		r.reconciles.WithLabelValues(OutcomeExhausted).Inc()
	case err != nil:
		r.reconciles.WithLabelValues(OutcomeError).Inc()
	case res.Skipped:
		r.reconciles.WithLabelValues(OutcomeSkipped).Inc()
	case res.Repaired:
		r.reconciles.WithLabelValues(OutcomeRepaired).Inc()
		drift, _ := res.Drift().Abs().Float64()
		r.drift.Observe(drift)
	default:
		r.reconciles.WithLabelValues(OutcomeClean).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func saveOutcome(err error) string {
	var verr *engine.ValidationError
	var aerr *engine.AuthorizationError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, engine.ErrSaveFailed):
		return OutcomeConflict
	case errors.As(err, &verr), errors.As(err, &aerr), engine.IsClientError(err), engine.IsNotFound(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
