package engine

// Operation names a coordinator entry point for observation.
type Operation string

const (
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpReceipt   Operation = "receipt"
	OpReconcile Operation = "reconcile"
)

// Observer receives outcome notifications. Implementations must be safe for
// concurrent use; see metrics.Recorder.
type Observer interface {
	ObserveSave(op Operation, t ActivityType, err error)
	ObserveConflict(op Operation, attempt int)
	ObserveReconcile(res ReconcileResult, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ObserveSave(Operation, ActivityType, error) {}
func (NopObserver) ObserveConflict(Operation, int) {}
func (NopObserver) ObserveReconcile(ReconcileResult, error) {}
