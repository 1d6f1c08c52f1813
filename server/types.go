package server

import "github.com/teranos/fieldpulse/track"

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100

	// clientSendBuffer is the per-client outbound message buffer. A client
	// that cannot drain it fast enough misses broadcasts rather than
	// stalling the tracker.
	clientSendBuffer = 64
)

// ControlMessage is an inbound WebSocket message from a dashboard client.
type ControlMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	Action  string `json:"action,omitempty"`
	Context string `json:"context,omitempty"`
}

// JobUpdateMessage is broadcast on every poll tick of a tracked job.
type JobUpdateMessage struct {
	Type      string       `json:"type"` // "job_update"
	JobID     string       `json:"job_id"`
	Status    track.Status `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// JobCompleteMessage is broadcast exactly once when a job finishes. Forced
// marks completions declared by the activity classifier rather than the
// status source.
type JobCompleteMessage struct {
	Type      string `json:"type"` // "job_complete"
	JobID     string `json:"job_id"`
	Forced    bool   `json:"forced"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// JobErrorMessage is broadcast exactly once when the status source reports
// an error state for a job.
type JobErrorMessage struct {
	Type      string `json:"type"` // "job_error"
	JobID     string `json:"job_id"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// JobListMessage carries the current job summaries; sent to each client on
// connect so the dashboard renders without waiting for the next update.
type JobListMessage struct {
	Type string             `json:"type"` // "job_list"
	Jobs []track.JobSummary `json:"jobs"`
}
