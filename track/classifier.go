package track

import (
	"strings"
	"time"
)

// Stage identifies which escalation check is being evaluated.
type Stage int

const (
	// StageEarlyCheck fires once shortly after job start. It never forces
	// completion; it exists to observe and log early progress.
	StageEarlyCheck Stage = iota
	// StageActivityLoop is re-evaluated periodically for the life of the
	// job and is the main staleness detector.
	StageActivityLoop
	// StageHardCap fires once at the absolute ceiling after job start.
	StageHardCap
)

func (s Stage) String() string {
	switch s {
	case StageEarlyCheck:
		return "early_check"
	case StageActivityLoop:
		return "activity_loop"
	case StageHardCap:
		return "hard_cap"
	default:
		return "unknown"
	}
}

// Verdict is the classifier's decision for one evaluation.
type Verdict int

const (
	VerdictContinue Verdict = iota
	VerdictForceComplete
)

func (v Verdict) String() string {
	if v == VerdictForceComplete {
		return "force_complete"
	}
	return "continue"
}

// ActivityClassifier decides whether a job is still progressing or should be
// treated as finished. The keyword implementation below is one strategy; a
// structured-progress protocol can replace it without touching the registry
// or the poll loop.
type ActivityClassifier interface {
	Classify(message string, sinceStart, sinceChange time.Duration, stage Stage) Verdict
}

// ClassifierConfig holds the escalation timings and keyword sets. Zero
// durations fall back to the defaults below; tests use millisecond-scale
// values to avoid wall-clock waits.
type ClassifierConfig struct {
	EarlyCheckAfter time.Duration // one-shot observation check after start
	LoopInterval    time.Duration // staleness re-evaluation period
	StaleGrace      time.Duration // staleness below this always continues
	StaleLimit      time.Duration // staleness above this forces completion
	HardCapAfter    time.Duration // absolute ceiling after start
	CapStaleLimit   time.Duration // staleness tolerated at the cap

	ActivityKeywords []string // phrases marking a message as in-progress
	ClosingKeywords  []string // phrases suppressing the hard cap
}

// DefaultClassifierConfig returns the production escalation profile:
// observe at 15s, re-evaluate staleness every 30s (45s grace, 120s limit),
// hard ceiling at 5 minutes with 60s of staleness tolerated.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		EarlyCheckAfter: 15 * time.Second,
		LoopInterval:    30 * time.Second,
		StaleGrace:      45 * time.Second,
		StaleLimit:      120 * time.Second,
		HardCapAfter:    300 * time.Second,
		CapStaleLimit:   60 * time.Second,
	}
}

// DefaultActivityKeywords mark a status message as still-progressing: form
// filling, navigation, and in-progress fuel/dispenser processing as emitted
// by the automation runner. Teardown phrases deliberately live only in
// DefaultClosingKeywords: a session stuck on "Closing browser" must stay
// eligible for staleness-based completion on the activity loop.
var DefaultActivityKeywords = []string{
	"filling form",
	"entering data",
	"navigating",
	"logging in",
	"submitting",
	"loading page",
	"processing dispenser",
	"processing fuel",
	"reading dispenser",
	"recording visit",
}

// DefaultClosingKeywords suppress the hard cap while the browser session is
// tearing down.
var DefaultClosingKeywords = []string{
	"closing browser",
	"finalizing session",
	"saving results",
}

// withDefaults fills zero values with the production profile.
func (c ClassifierConfig) withDefaults() ClassifierConfig {
	d := DefaultClassifierConfig()
	if c.EarlyCheckAfter <= 0 {
		c.EarlyCheckAfter = d.EarlyCheckAfter
	}
	if c.LoopInterval <= 0 {
		c.LoopInterval = d.LoopInterval
	}
	if c.StaleGrace <= 0 {
		c.StaleGrace = d.StaleGrace
	}
	if c.StaleLimit <= 0 {
		c.StaleLimit = d.StaleLimit
	}
	if c.HardCapAfter <= 0 {
		c.HardCapAfter = d.HardCapAfter
	}
	if c.CapStaleLimit <= 0 {
		c.CapStaleLimit = d.CapStaleLimit
	}
	if len(c.ActivityKeywords) == 0 {
		c.ActivityKeywords = DefaultActivityKeywords
	}
	if len(c.ClosingKeywords) == 0 {
		c.ClosingKeywords = DefaultClosingKeywords
	}
	return c
}

// KeywordClassifier is the concrete ActivityClassifier strategy: it matches
// free-text progress messages against a fixed keyword set and escalates on
// staleness. Matching is case-insensitive substring.
type KeywordClassifier struct {
	cfg      ClassifierConfig
	activity []string
	closing  []string
}

// NewKeywordClassifier creates a keyword classifier. Zero config values fall
// back to the production defaults.
func NewKeywordClassifier(cfg ClassifierConfig) *KeywordClassifier {
	cfg = cfg.withDefaults()
	return &KeywordClassifier{
		cfg:      cfg,
		activity: lowered(cfg.ActivityKeywords),
		closing:  lowered(cfg.ClosingKeywords),
	}
}

// Classify maps a status message and elapsed-time metrics to a verdict.
func (k *KeywordClassifier) Classify(message string, sinceStart, sinceChange time.Duration, stage Stage) Verdict {
	switch stage {
	case StageEarlyCheck:
		// Observation only - never forces completion
		return VerdictContinue

	case StageActivityLoop:
		if matchesAny(message, k.activity) || sinceChange < k.cfg.StaleGrace {
			return VerdictContinue
		}
		if sinceChange > k.cfg.StaleLimit {
			return VerdictForceComplete
		}
		// Grace window between StaleGrace and StaleLimit; re-checked on
		// the next loop tick
		return VerdictContinue

	case StageHardCap:
		if matchesAny(message, k.closing) || sinceChange < k.cfg.CapStaleLimit {
			return VerdictContinue
		}
		return VerdictForceComplete
	}

	return VerdictContinue
}

func lowered(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = strings.ToLower(kw)
	}
	return out
}

func matchesAny(message string, keywords []string) bool {
	if message == "" {
		return false
	}
	msg := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
