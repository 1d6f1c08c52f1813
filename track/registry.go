package track

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fieldpulse/db"
)

// RegistryConfig contains configuration for the job registry.
type RegistryConfig struct {
	// PollInterval is the delay between status queries for an active job.
	// The next query is never issued before the previous one has resolved.
	PollInterval time.Duration
	Classifier   ClassifierConfig
}

// DefaultRegistryConfig returns sensible defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		PollInterval: time.Second,
		Classifier:   DefaultClassifierConfig(),
	}
}

// Registry owns the set of currently tracked jobs and all of their timer
// handles. It enforces at most one active tracking loop per job id no matter
// how Start/Stop/Pause/Resume calls race against in-flight poll responses.
//
// The registry is instantiated once per process and passed by injection to
// every component that needs it; nothing here is package-global state. No
// other component may hold or mutate a Job directly.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*handle

	source     StatusSource
	classifier ActivityClassifier
	store      SnapshotStore // optional; nil disables persistence

	pollInterval time.Duration
	clsCfg       ClassifierConfig

	// activeID is the job mirrored into the persisted snapshot: the most
	// recently started or resumed non-terminal job.
	activeID string

	logger *zap.SugaredLogger
}

// handle bundles a Job with its timer handles and callback state. All fields
// except deliverMu/closed are guarded by the registry mutex.
type handle struct {
	job       *Job
	callbacks Callbacks

	// cancel stops the poll loop and the activity loop goroutines.
	cancel context.CancelFunc

	// One-shot stage timers, keyed to the job's original StartedAt. They
	// are never replayed once fired, even across pause/resume.
	earlyTimer *time.Timer
	capTimer   *time.Timer
	earlyFired bool
	capFired   bool

	// deliverMu serializes callback delivery for this job so a late poll
	// update can never be observed after the terminal callback. closed is
	// set when the terminal event has been delivered. Stop never takes
	// deliverMu, which keeps Stop safe to call from inside a callback.
	deliverMu sync.Mutex
	closed    bool
}

// deliver invokes fn under the handle's delivery mutex. Events that lose the
// race against an already-delivered terminal event are discarded. terminal
// marks this event as the job's last.
func (h *handle) deliver(terminal bool, fn func()) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	if h.closed {
		return
	}
	if terminal {
		h.closed = true
	}
	if fn != nil {
		fn()
	}
}

// NewRegistry creates a job registry. classifier may be nil, in which case
// the keyword strategy built from cfg.Classifier is used. store may be nil
// to disable persistence (tests).
func NewRegistry(source StatusSource, classifier ActivityClassifier, store SnapshotStore, cfg RegistryConfig, logger *zap.SugaredLogger) *Registry {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	cfg.Classifier = cfg.Classifier.withDefaults()
	if classifier == nil {
		classifier = NewKeywordClassifier(cfg.Classifier)
	}
	return &Registry{
		jobs:         make(map[string]*handle),
		source:       source,
		classifier:   classifier,
		store:        store,
		pollInterval: cfg.PollInterval,
		clsCfg:       cfg.Classifier,
		logger:       logger.Named("track"),
	}
}

// Start begins tracking the job with the given id.
//
// If the id is already tracked and paused this is equivalent to Resume. If
// it is already active this is a no-op, so repeated Start calls can never
// produce duplicate timer sets. Otherwise a new Job is inserted, the stage
// timers and poll loop are armed, and Start returns immediately.
func (r *Registry) Start(id string, jobContext string, cbs Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.jobs[id]; ok {
		switch h.job.Phase {
		case PhasePaused:
			r.resumeLocked(h, cbs)
		case PhaseActive:
			// Idempotent - the existing loop keeps running
		}
		return
	}

	now := time.Now()
	h := &handle{
		job: &Job{
			ID:                   id,
			Context:              jobContext,
			Phase:                PhaseActive,
			StartedAt:            now,
			LastStatusAt:         now,
			LastMessageChangedAt: now,
		},
		callbacks: cbs,
	}
	r.jobs[id] = h
	r.activeID = id
	r.armLocked(h)
	r.persistLocked()

	r.logger.Infow("Job tracking started",
		"job_id", id,
		"context", jobContext,
		"poll_interval", r.pollInterval)
}

// Stop removes the job from the registry and tears down its timers.
//
// The registry entry is removed before any timer is cancelled, so an
// in-flight poll response that resolves after Stop finds no entry and
// discards its result. Idempotent; no callbacks fire.
func (r *Registry) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// Pause cancels the recurring poll loop and the activity loop but retains
// the job record, its message history and its timestamps so tracking can be
// resumed rather than restarted. Idempotent; no-op if already paused.
func (r *Registry) Pause(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.jobs[id]
	if !ok || h.job.Phase != PhaseActive {
		return
	}

	r.disarmLocked(h)
	h.job.Phase = PhasePaused
	r.persistLocked()

	r.logger.Infow("Job tracking paused", "job_id", id, "last_message", h.job.LastMessage)
}

// Resume rearms the poll loop and the activity loop for a paused job and
// replaces the stored callbacks with the newly supplied ones (the original
// caller may no longer exist after a remount). The one-shot stage timers
// stay keyed to the job's original start time and are never replayed once
// fired or past due.
//
// Returns false if the id is unknown; the caller must Start instead.
func (r *Registry) Resume(id string, cbs Callbacks) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.jobs[id]
	if !ok {
		return false
	}
	if h.job.Phase == PhaseActive {
		// Already running; just hand the loop to the new caller
		h.callbacks = cbs
		return true
	}
	r.resumeLocked(h, cbs)
	return true
}

// StopAll applies Stop to every tracked job.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.jobs {
		r.removeLocked(id)
	}
}

// PauseAll applies Pause to every tracked job; used at process-teardown
// boundaries so progress can be resumed rather than restarted.
//
// Unlike a user-initiated Pause, the persisted snapshot keeps its polling
// flag set when the active job was still being polled: teardown is not a
// decision to stop tracking, and the next process start must reattach. A
// job the user already paused stays paused across the restart.
func (r *Registry) PauseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasPolling := false
	if h, ok := r.jobs[r.activeID]; ok {
		wasPolling = h.job.Phase == PhaseActive
	}
	for _, h := range r.jobs {
		if h.job.Phase != PhaseActive {
			continue
		}
		r.disarmLocked(h)
		h.job.Phase = PhasePaused
	}
	r.saveLocked(Snapshot{
		ActiveJobID:    r.activeID,
		PollingEnabled: wasPolling,
		Summaries:      r.summariesLocked(),
	})
	r.logger.Infow("All job tracking paused", "jobs", len(r.jobs))
}

// Get returns the summary for a tracked job.
func (r *Registry) Get(id string) (JobSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[id]
	if !ok {
		return JobSummary{}, false
	}
	return h.job.summary(), true
}

// Summaries returns the caller-visible projection of every tracked job,
// oldest first.
func (r *Registry) Summaries() []JobSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summariesLocked()
}

// Reconfigure applies new timings to loops armed after the call. Running
// loops keep their original timings until the job is paused and resumed.
func (r *Registry) Reconfigure(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.PollInterval > 0 {
		r.pollInterval = cfg.PollInterval
	}
	r.clsCfg = cfg.Classifier.withDefaults()
	r.logger.Infow("Registry reconfigured", "poll_interval", r.pollInterval)
}

// ---- internal, all called with r.mu held ----

// armLocked spawns the poll loop and activity loop and arms the one-shot
// stage timers at their absolute deadlines. A stage whose deadline elapsed
// while the job was paused is skipped rather than fired on resume: the job
// has just been handed back and its staleness clock includes the whole
// pause, so an immediate cap evaluation would reap it before the first
// fresh poll lands. The activity loop provides the ceiling from then on.
func (r *Registry) armLocked(h *handle) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	// Loops capture their intervals at arm time; Reconfigure only affects
	// loops armed afterwards.
	id := h.job.ID
	go r.pollLoop(ctx, id, r.pollInterval)
	go r.activityLoop(ctx, id, r.clsCfg.LoopInterval)

	if !h.earlyFired {
		if d := time.Until(h.job.StartedAt.Add(r.clsCfg.EarlyCheckAfter)); d > 0 {
			h.earlyTimer = time.AfterFunc(d, func() { r.earlyCheck(id) })
		}
	}
	if !h.capFired {
		if d := time.Until(h.job.StartedAt.Add(r.clsCfg.HardCapAfter)); d > 0 {
			h.capTimer = time.AfterFunc(d, func() { r.capCheck(id) })
		}
	}
}

// disarmLocked cancels the loops and stops the stage timers without
// touching the job record.
func (r *Registry) disarmLocked(h *handle) {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.earlyTimer != nil {
		h.earlyTimer.Stop()
		h.earlyTimer = nil
	}
	if h.capTimer != nil {
		h.capTimer.Stop()
		h.capTimer = nil
	}
}

func (r *Registry) resumeLocked(h *handle, cbs Callbacks) {
	h.callbacks = cbs
	h.job.Phase = PhaseActive
	r.activeID = h.job.ID
	r.armLocked(h)
	r.persistLocked()

	r.logger.Infow("Job tracking resumed",
		"job_id", h.job.ID,
		"last_message", h.job.LastMessage,
		"since_start", time.Since(h.job.StartedAt).Round(time.Second))
}

// removeLocked deletes the registry entry first and cancels timers second;
// any poll response that resolves in between finds no entry and is
// discarded rather than mutating freed state.
func (r *Registry) removeLocked(id string) {
	h, ok := r.jobs[id]
	if !ok {
		return
	}
	delete(r.jobs, id)
	r.disarmLocked(h)
	h.job.Phase = PhaseTerminal
	if r.activeID == id {
		r.activeID = ""
		r.clearSnapshotLocked()
	}
}

func (r *Registry) summariesLocked() []JobSummary {
	out := make([]JobSummary, 0, len(r.jobs))
	for _, h := range r.jobs {
		out = append(out, h.job.summary())
	}
	// Oldest first for stable dashboard ordering
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// persistTerminalLocked writes the post-completion snapshot: no active job
// and polling off, but the finished job stays in the summary history so the
// dashboard can show the last run. Called after removeLocked, which already
// dropped the job from the registry.
func (r *Registry) persistTerminalLocked(final JobSummary) {
	sums := append(r.summariesLocked(), final)
	sort.Slice(sums, func(i, j int) bool {
		return sums[i].StartedAt.Before(sums[j].StartedAt)
	})
	r.saveLocked(Snapshot{Summaries: sums})
}

// persistLocked writes the snapshot through to the store.
func (r *Registry) persistLocked() {
	snap := Snapshot{
		ActiveJobID: r.activeID,
		Summaries:   r.summariesLocked(),
	}
	if h, ok := r.jobs[r.activeID]; ok {
		snap.PollingEnabled = h.job.Phase == PhaseActive
	}
	r.saveLocked(snap)
}

// saveLocked writes snap through to the store. Best-effort: a write failure
// is logged and tracking continues.
func (r *Registry) saveLocked(snap Snapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(snap); err != nil {
		if db.IsDatabaseClosed(err) {
			// Process teardown closed the database before the last
			// poll resolved; nothing to persist to
			r.logger.Debugw("Snapshot write skipped, database closed")
		} else {
			r.logger.Warnw("Snapshot write failed", "error", err)
		}
	}
}

// clearSnapshotLocked drops the persisted job id and polling flag once the
// active job is terminal, so a later process start does not reattach.
func (r *Registry) clearSnapshotLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Clear(); err != nil {
		r.logger.Warnw("Snapshot clear failed", "error", err)
	}
}
