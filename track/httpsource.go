package track

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/fieldpulse/errors"
)

// HTTPSource queries the automation runner's status endpoint over HTTP.
//
// Transport failures and malformed responses are returned as
// errors.ErrSourceUnavailable / errors.ErrMalformedStatus; the poll loop
// swallows both and keeps polling, so a flaky runner never terminates a job.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewHTTPSource creates a status source for the runner at baseURL.
// queriesPerMinute caps the status query rate across all jobs; 0 disables
// the cap.
func NewHTTPSource(baseURL string, timeout time.Duration, queriesPerMinute int, logger *zap.SugaredLogger) *HTTPSource {
	var limiter *rate.Limiter
	if queriesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(queriesPerMinute)/60.0), 1)
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// Query fetches the current status for jobID.
func (s *HTTPSource) Query(ctx context.Context, jobID string) (Report, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Report{}, errors.Wrap(errors.ErrSourceUnavailable, err.Error())
		}
	}

	endpoint := s.baseURL + "/automation/status"
	if jobID != "" {
		endpoint += "?job=" + url.QueryEscape(jobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Report{}, errors.Wrap(err, "build status request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Report{}, errors.Wrapf(errors.ErrSourceUnavailable, "status query: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, errors.Wrapf(errors.ErrSourceUnavailable, "status query returned HTTP %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return Report{}, errors.Wrapf(errors.ErrMalformedStatus, "decode status body: %v", err)
	}
	if !IsValidStatus(string(report.Status)) {
		return Report{}, errors.Wrapf(errors.ErrMalformedStatus, "unknown status %q", report.Status)
	}

	return report, nil
}
