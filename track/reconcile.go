package track

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Reconciler reattaches the tracker to a job that was mid-flight when the
// hosting process was torn down. It runs once per process start: read the
// snapshot, issue one immediate catch-up query, and either finalize the job
// or hand it back to the registry.
type Reconciler struct {
	store    SnapshotStore
	source   StatusSource
	registry *Registry
	logger   *zap.SugaredLogger
}

// NewReconciler creates a reconciler over the given store, source and
// registry.
func NewReconciler(store SnapshotStore, source StatusSource, registry *Registry, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:    store,
		source:   source,
		registry: registry,
		logger:   logger.Named("reconcile"),
	}
}

// Reattach restores tracking for a persisted mid-flight job, installing cbs
// as the job's callbacks. It is a no-op when nothing was mid-flight.
//
// A snapshot read failure is treated as "no active job"; a catch-up query
// that keeps failing does not block reattachment, since the poll loop will
// retry anyway.
func (r *Reconciler) Reattach(ctx context.Context, cbs Callbacks) error {
	snap, err := r.store.Load()
	if err != nil {
		r.logger.Warnw("Snapshot load failed, assuming no active job", "error", err)
		return nil
	}
	if snap.ActiveJobID == "" || !snap.PollingEnabled {
		r.logger.Debugw("No mid-flight job to reattach")
		return nil
	}

	r.logger.Infow("Reattaching to mid-flight job", "job_id", snap.ActiveJobID)

	// One immediate query, bypassing the poll timer, to catch up on any
	// state change missed while detached.
	report, err := r.catchUp(ctx, snap.ActiveJobID)
	if err != nil {
		r.logger.Warnw("Catch-up query failed, resuming tracking anyway",
			"job_id", snap.ActiveJobID,
			"error", err)
	} else if report.Status.Terminal() {
		// The job finished while we were away; finalize without
		// starting a new poll loop
		r.logger.Infow("Job finished while detached",
			"job_id", snap.ActiveJobID,
			"status", report.Status,
			"message", report.Message)
		if err := r.store.Clear(); err != nil {
			r.logger.Warnw("Snapshot clear failed", "error", err)
		}
		return nil
	}

	if r.registry.Resume(snap.ActiveJobID, cbs) {
		return nil
	}

	// Registry is empty - the process fully restarted. Start fresh; the
	// original absolute start time is not recoverable, so the stage
	// timers are keyed to now.
	r.registry.Start(snap.ActiveJobID, contextFor(snap), cbs)
	return nil
}

// catchUp issues the immediate status query with a short exponential
// backoff so a runner that is still coming up after a reboot gets a second
// chance.
func (r *Reconciler) catchUp(ctx context.Context, jobID string) (Report, error) {
	var report Report
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	op := func() error {
		rep, err := r.source.Query(ctx, jobID)
		if err != nil {
			return err
		}
		report = rep
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return Report{}, err
	}
	return report, nil
}

// contextFor recovers the job's opaque caller context from the persisted
// summaries, if present.
func contextFor(snap Snapshot) string {
	for _, s := range snap.Summaries {
		if s.ID == snap.ActiveJobID {
			return s.Context
		}
	}
	return ""
}
