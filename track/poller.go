package track

import (
	"context"
	"time"

	"github.com/teranos/fieldpulse/errors"
)

// pollLoop issues periodic status queries for one job until its context is
// cancelled. The next tick is armed only after the previous query has
// resolved and its result has been applied, so exactly one query is ever in
// flight per job and onUpdate callbacks are delivered in query order even
// under variable network latency.
func (r *Registry) pollLoop(ctx context.Context, id string, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report, err := r.source.Query(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transport failures are never terminal; log and keep polling.
			// Only an explicit error state or the classifier ends a job.
			if errors.IsTransportError(err) {
				r.logger.Debugw("Status query failed, will retry", "job_id", id, "error", err)
			} else {
				r.logger.Warnw("Status query failed, will retry", "job_id", id, "error", err)
			}
		} else {
			r.applyPoll(ctx, id, report)
		}

		timer.Reset(interval)
	}
}

// applyPoll applies one status report. If the job was removed, or its loop
// cancelled, while the query was in flight the result is discarded - no
// state is mutated and no callback fires. The context is re-checked under
// the lock because cancellation happens under the same lock: a loop from a
// previous start of the same id can never touch the current job record.
func (r *Registry) applyPoll(ctx context.Context, id string, report Report) {
	r.mu.Lock()

	h, ok := r.jobs[id]
	if !ok || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}

	h.job.observe(report.Message, time.Now())
	cbs := h.callbacks
	terminal := report.Status.Terminal()
	if terminal {
		r.removeLocked(id)
		r.persistTerminalLocked(h.job.summary())
	} else {
		r.persistLocked()
	}
	r.mu.Unlock()

	h.deliver(terminal, func() {
		if cbs.OnUpdate != nil {
			cbs.OnUpdate(report.Status, report.Message)
		}
		switch report.Status {
		case StatusCompleted:
			if cbs.OnComplete != nil {
				cbs.OnComplete(Completion{Message: report.Message})
			}
		case StatusError:
			if cbs.OnError != nil {
				cbs.OnError(report.Message)
			}
		}
	})
}

// activityLoop periodically re-evaluates staleness for one job. The first
// evaluation happens one interval after (re)arming.
func (r *Registry) activityLoop(ctx context.Context, id string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluate(id, StageActivityLoop)
		}
	}
}

// earlyCheck is the one-shot observation stage shortly after start. It never
// forces completion.
func (r *Registry) earlyCheck(id string) {
	r.mu.Lock()
	h, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	h.earlyFired = true
	msg := h.job.LastMessage
	sinceStart := time.Since(h.job.StartedAt)
	sinceChange := time.Since(h.job.LastMessageChangedAt)
	r.mu.Unlock()

	// Verdict is always Continue at this stage; classify for the log only
	verdict := r.classifier.Classify(msg, sinceStart, sinceChange, StageEarlyCheck)
	r.logger.Infow("Early progress check",
		"job_id", id,
		"message", msg,
		"since_start", sinceStart.Round(time.Second),
		"verdict", verdict.String())
}

// capCheck is the one-shot hard ceiling.
func (r *Registry) capCheck(id string) {
	r.mu.Lock()
	if h, ok := r.jobs[id]; ok {
		h.capFired = true
	}
	r.mu.Unlock()
	r.evaluate(id, StageHardCap)
}

// evaluate runs the classifier for one stage and force-completes the job on
// a ForceComplete verdict. A job gone from the registry is ignored.
func (r *Registry) evaluate(id string, stage Stage) {
	r.mu.Lock()

	h, ok := r.jobs[id]
	if !ok || h.job.Phase != PhaseActive {
		r.mu.Unlock()
		return
	}

	msg := h.job.LastMessage
	sinceStart := time.Since(h.job.StartedAt)
	sinceChange := time.Since(h.job.LastMessageChangedAt)
	verdict := r.classifier.Classify(msg, sinceStart, sinceChange, stage)

	if verdict != VerdictForceComplete {
		r.mu.Unlock()
		r.logger.Debugw("Activity check",
			"job_id", id,
			"stage", stage.String(),
			"since_change", sinceChange.Round(time.Second),
			"verdict", verdict.String())
		return
	}

	// The source never sent a terminal state; the heuristic declares one.
	h.job.ForcedComplete = true
	cbs := h.callbacks
	r.removeLocked(id)
	r.persistTerminalLocked(h.job.summary())
	r.mu.Unlock()

	r.logger.Infow("Job force-completed by activity classifier",
		"job_id", id,
		"stage", stage.String(),
		"last_message", msg,
		"since_change", sinceChange.Round(time.Second))

	h.deliver(true, func() {
		if cbs.OnUpdate != nil {
			cbs.OnUpdate(StatusCompleted, msg)
		}
		if cbs.OnComplete != nil {
			cbs.OnComplete(Completion{Forced: true, Message: msg})
		}
	})
}
