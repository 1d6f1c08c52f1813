package track

import "context"

// Report is one observation of the automation's state.
type Report struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusSource exposes the current status of a tracked automation job.
//
// The query is parameterized by job id. The legacy runner endpoint only
// tracks one implicitly-current job and ignores the id; implementations for
// it may do the same, but the contract supports multiple jobs so the
// registry is not artificially limited to one.
type StatusSource interface {
	Query(ctx context.Context, jobID string) (Report, error)
}

// StatusSourceFunc adapts a function to the StatusSource interface.
type StatusSourceFunc func(ctx context.Context, jobID string) (Report, error)

func (f StatusSourceFunc) Query(ctx context.Context, jobID string) (Report, error) {
	return f(ctx, jobID)
}
