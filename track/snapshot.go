package track

// Snapshot is the persisted shadow of the registry: enough to decide, at
// the next process start, whether a job was mid-flight and should be
// reattached, plus the caller-visible summaries for dashboard display.
//
// Lifecycle: written through after every state-changing event, read once at
// process start by the Reconciler, job id and polling flag cleared when the
// job reaches Terminal.
type Snapshot struct {
	ActiveJobID    string
	PollingEnabled bool
	Summaries      []JobSummary
}

// SnapshotStore is the durable key-value persistence surviving process
// restarts. Implementations must tolerate missing or corrupt values on Load
// by substituting the zero Snapshot (no active job); Save and Clear are
// best-effort from the registry's point of view.
type SnapshotStore interface {
	Save(snap Snapshot) error
	Load() (Snapshot, error)
	// Clear drops the active job id and polling flag but retains the
	// summaries for display history.
	Clear() error
}
