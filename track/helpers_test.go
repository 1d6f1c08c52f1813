package track

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fieldpulse/errors"
)

// errSourceDown mimics the poll loop's view of an unreachable runner.
var errSourceDown = errors.Wrap(errors.ErrSourceUnavailable, "connection refused")

// fakeSource is a scripted StatusSource shared by the registry, poller and
// reconciler tests. It records every query and can optionally block until
// released to exercise in-flight races.
type fakeSource struct {
	mu      sync.Mutex
	report  Report
	err     error
	queries int
	lastID  string

	inFlight    int
	maxInFlight int

	// When gate is non-nil every query blocks on it before returning.
	gate chan struct{}
}

func newFakeSource(report Report) *fakeSource {
	return &fakeSource{report: report}
}

func (f *fakeSource) Query(ctx context.Context, jobID string) (Report, error) {
	f.mu.Lock()
	f.queries++
	f.lastID = jobID
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.err != nil {
		return Report{}, f.err
	}
	return f.report, nil
}

func (f *fakeSource) set(report Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = report
	f.err = nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeSource) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// memoryStore is an in-memory SnapshotStore for tests that do not need
// SQLite.
type memoryStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

func (m *memoryStore) Save(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func (m *memoryStore) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.ActiveJobID = ""
	m.snap.PollingEnabled = false
	return nil
}

func (m *memoryStore) current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// testRegistryConfig scales the production escalation profile down 1000x so
// timing tests run in milliseconds of simulated wall time.
func testRegistryConfig() RegistryConfig {
	return RegistryConfig{
		PollInterval: 5 * time.Millisecond,
		Classifier: ClassifierConfig{
			EarlyCheckAfter: 15 * time.Millisecond,
			LoopInterval:    30 * time.Millisecond,
			StaleGrace:      45 * time.Millisecond,
			StaleLimit:      120 * time.Millisecond,
			HardCapAfter:    300 * time.Millisecond,
			CapStaleLimit:   60 * time.Millisecond,
		},
	}
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
