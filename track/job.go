// Package track implements the long-running automation job tracker: a
// registry of polled jobs, the per-job poll loop, the activity classifier
// that decides whether a silent automation is still alive, and the
// reconciliation logic that reattaches to a mid-flight job after the hosting
// process is torn down and recreated.
//
// The status source only emits free-text progress messages while the
// automation runs, so liveness is judged heuristically; see classifier.go.
package track

import "time"

// Status is the state reported by the automation status source.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal returns true if the status ends tracking for the job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Phase is the registry-side lifecycle of a tracked job.
//
// Active means a live poll loop exists for the job. Paused means the job is
// retained with its history but no timers are armed. Terminal is reached
// exactly once; the job is removed from the registry atomically with the
// transition and never comes back.
type Phase string

const (
	PhaseActive   Phase = "active"
	PhasePaused   Phase = "paused"
	PhaseTerminal Phase = "terminal"
)

// Completion describes how a job reached its terminal phase. Forced is true
// when the activity classifier declared completion in the absence of an
// explicit "completed" signal from the status source, so callers can tell
// the two apart.
type Completion struct {
	Forced  bool
	Message string
}

// Callbacks are owned by whichever caller last issued Start or Resume; a
// remounted host replaces them wholesale. They are never persisted.
//
// OnUpdate fires on every successful poll tick and on forced completion.
// OnComplete fires exactly once when the job reaches Terminal.
// OnError fires exactly once when the status source reports an error state.
type Callbacks struct {
	OnUpdate   func(status Status, message string)
	OnComplete func(res Completion)
	OnError    func(message string)
}

// Job is one tracked run of the externally executing automation.
type Job struct {
	// ID is assigned by the status source at job creation; immutable.
	ID string
	// Context is opaque caller-supplied data (e.g. the target URL) carried
	// through for callback convenience; immutable.
	Context string

	Phase Phase

	StartedAt    time.Time
	LastStatusAt time.Time
	// LastMessageChangedAt only advances when the message actually differs
	// from the prior value; repeated identical polls do not reset it.
	LastMessageChangedAt time.Time
	LastMessage          string

	// ForcedComplete is set once the classifier, not the status source,
	// declares completion.
	ForcedComplete bool
}

// observe applies a freshly polled status message.
func (j *Job) observe(message string, now time.Time) {
	j.LastStatusAt = now
	if message != j.LastMessage {
		j.LastMessage = message
		j.LastMessageChangedAt = now
	}
}

// JobSummary is the caller-visible projection of a Job persisted for
// dashboard display.
type JobSummary struct {
	ID             string    `json:"id"`
	Context        string    `json:"context,omitempty"`
	Phase          Phase     `json:"phase"`
	LastMessage    string    `json:"last_message,omitempty"`
	ForcedComplete bool      `json:"forced_complete,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastStatusAt   time.Time `json:"last_status_at"`
	LastChangeAt   time.Time `json:"last_change_at"`
}

// summary projects the job for persistence and display.
func (j *Job) summary() JobSummary {
	return JobSummary{
		ID:             j.ID,
		Context:        j.Context,
		Phase:          j.Phase,
		LastMessage:    j.LastMessage,
		ForcedComplete: j.ForcedComplete,
		StartedAt:      j.StartedAt,
		LastStatusAt:   j.LastStatusAt,
		LastChangeAt:   j.LastMessageChangedAt,
	}
}
