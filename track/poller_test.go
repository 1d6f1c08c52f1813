package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests drive the full poll/classify/force-complete pipeline with the
// escalation profile scaled down 1000x (see testRegistryConfig), so "120
// seconds of staleness" becomes 120 milliseconds of wall time.

func newEscalationRegistry(t *testing.T, source StatusSource) *Registry {
	t.Helper()
	r := NewRegistry(source, nil, nil, testRegistryConfig(), testLogger())
	t.Cleanup(r.StopAll)
	return r
}

func TestStaleJobIsForceCompletedByActivityLoop(t *testing.T) {
	// The message never matches an activity keyword and never changes, so
	// the activity loop force-completes once staleness passes the limit
	src := newFakeSource(Report{Status: StatusRunning, Message: "waiting on external system"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	start := time.Now()
	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	res := rec.lastCompletion()
	assert.True(t, res.Forced)
	assert.Equal(t, "waiting on external system", res.Message)

	// Force-completion must respect the stale limit, not fire on the
	// first loop tick
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	_, ok := r.Get("job-1")
	assert.False(t, ok)
}

func TestActiveKeywordSurvivesLoopButNotHardCap(t *testing.T) {
	// A frozen message with an in-progress keyword keeps the activity
	// loop satisfied indefinitely; only the hard cap ends it
	src := newFakeSource(Report{Status: StatusRunning, Message: "Filling form 2/5"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	start := time.Now()
	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	res := rec.lastCompletion()
	assert.True(t, res.Forced)

	// Well past the 120ms stale limit the loop would have used; the cap
	// is at 300ms
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
}

func TestFrozenClosingMessageStillTimesOut(t *testing.T) {
	// Closing phrases suppress the hard cap but carry no weight on the
	// activity loop, so a browser stuck in teardown still gets reaped by
	// staleness
	src := newFakeSource(Report{Status: StatusRunning, Message: "Closing browser"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	res := rec.lastCompletion()
	assert.True(t, res.Forced)
	assert.Equal(t, "Closing browser", res.Message)
}

func TestForcedCompletionDeliversUpdateThenComplete(t *testing.T) {
	src := newFakeSource(Report{Status: StatusRunning, Message: "stuck"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.updates)
	last := rec.updates[len(rec.updates)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, "stuck", last.Message)
	assert.Empty(t, rec.errored)
}

func TestNoCallbacksAfterForcedCompletion(t *testing.T) {
	// Hold a poll response in flight across the forced completion. When
	// it is finally released it must be discarded, not delivered after
	// the terminal OnComplete.
	src := newFakeSource(Report{Status: StatusRunning, Message: "stuck"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	// Trap the next query from any straggling loop, then release it
	src.mu.Lock()
	src.gate = make(chan struct{})
	src.mu.Unlock()
	close(src.gate)

	updates := rec.updateCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, updates, rec.updateCount())
	assert.Equal(t, 1, rec.completionCount())
}

func TestChangingMessagesSurviveLoopAndCap(t *testing.T) {
	// A message that keeps changing resets the staleness clock even when
	// it never matches a keyword, so the job rides out both the activity
	// loop and the hard cap. Once the messages freeze, staleness reaps it.
	src := newFakeSource(Report{Status: StatusRunning, Message: "step 0"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	stop := make(chan struct{})
	go func() {
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				src.set(Report{Status: StatusRunning, Message: "step " + string(rune('0'+i%10))})
			}
		}
	}()

	start := time.Now()
	r.Start("job-1", "", rec.callbacks())

	// Past the hard cap with messages still flowing the job must be alive
	time.Sleep(350 * time.Millisecond)
	sum, ok := r.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, PhaseActive, sum.Phase)
	assert.Zero(t, rec.completionCount())

	// Freeze the message stream; the activity loop takes over
	close(stop)
	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
	assert.True(t, rec.lastCompletion().Forced)
}

func TestForcedCompletionStaysInPersistedHistory(t *testing.T) {
	src := newFakeSource(Report{Status: StatusRunning, Message: "waiting on external system"})
	rec := &recorder{}
	store := &memoryStore{}
	r := NewRegistry(src, nil, store, testRegistryConfig(), testLogger())
	t.Cleanup(r.StopAll)

	r.Start("job-1", "", rec.callbacks())

	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)

	snap := store.current()
	assert.Empty(t, snap.ActiveJobID)
	assert.False(t, snap.PollingEnabled)
	require.Len(t, snap.Summaries, 1)
	assert.Equal(t, PhaseTerminal, snap.Summaries[0].Phase)
	assert.True(t, snap.Summaries[0].ForcedComplete)
}

func TestResumeAfterCapDeadlineElapsedWhilePaused(t *testing.T) {
	// The hard cap deadline passes while the job is paused. Resume does
	// not fire the stage late (the staleness clock includes the whole
	// pause, so a late cap check would reap the job before its first
	// fresh poll); the activity loop alone provides the ceiling from then
	// on.
	src := newFakeSource(Report{Status: StatusRunning, Message: "step 0"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	r.Start("job-1", "", rec.callbacks())
	time.Sleep(50 * time.Millisecond)
	r.Pause("job-1")

	// Well past the 300ms cap deadline before anyone resumes
	time.Sleep(400 * time.Millisecond)

	src.set(Report{Status: StatusRunning, Message: "step 1"})
	stop := make(chan struct{})
	go func() {
		for i := 2; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				src.set(Report{Status: StatusRunning, Message: "step " + string(rune('0'+i%10))})
			}
		}
	}()
	require.True(t, r.Resume("job-1", rec.callbacks()))

	// Alive well past the original cap deadline while messages move
	time.Sleep(200 * time.Millisecond)
	sum, ok := r.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, PhaseActive, sum.Phase)
	assert.Zero(t, rec.completionCount())

	// Frozen messages are still reaped by the staleness loop
	close(stop)
	assert.Eventually(t, func() bool {
		return rec.completionCount() == 1
	}, 2*time.Second, time.Millisecond)
	assert.True(t, rec.lastCompletion().Forced)
}

func TestPausedJobIsNeverForceCompleted(t *testing.T) {
	src := newFakeSource(Report{Status: StatusRunning, Message: "stuck"})
	rec := &recorder{}
	r := newEscalationRegistry(t, src)

	r.Start("job-1", "", rec.callbacks())
	r.Pause("job-1")

	// Far past both the stale limit and the hard cap
	time.Sleep(400 * time.Millisecond)

	sum, ok := r.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, PhasePaused, sum.Phase)
	assert.Zero(t, rec.completionCount())
}
