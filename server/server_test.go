package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/fieldpulse/track"
)

// stubSource reports a fixed running status for every job.
type stubSource struct{}

func (stubSource) Query(ctx context.Context, jobID string) (track.Report, error) {
	return track.Report{Status: track.StatusRunning, Message: "Filling form 1/5"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := track.NewRegistry(stubSource{}, nil, nil, track.RegistryConfig{
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop().Sugar())
	t.Cleanup(registry.StopAll)

	s := New(registry, nil, zap.NewNop().Sugar())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	// Run the hub loop without the HTTP listener; httptest provides one
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	return s
}

func TestHandleJobsEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Jobs   []track.JobSummary `json:"jobs"`
		Source string             `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body.Jobs)
	assert.Equal(t, "live", body.Source)
}

func TestHandleJobsListsTrackedJobs(t *testing.T) {
	s := newTestServer(t)
	s.registry.Start("job-1", "https://portal.example/station/42", track.Callbacks{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Jobs []track.JobSummary `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "job-1", body.Jobs[0].ID)
	assert.Equal(t, track.PhaseActive, body.Jobs[0].Phase)
}

func TestHandleJobsMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleJobActions(t *testing.T) {
	s := newTestServer(t)

	// start with a context body
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/start",
		strings.NewReader(`{"context":"https://portal.example/station/42"}`))
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	sum, ok := s.registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, "https://portal.example/station/42", sum.Context)

	// pause
	req = httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/pause", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	sum, _ = s.registry.Get("job-1")
	assert.Equal(t, track.PhasePaused, sum.Phase)

	// resume
	req = httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/resume", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	sum, _ = s.registry.Get("job-1")
	assert.Equal(t, track.PhaseActive, sum.Phase)

	// stop
	req = httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/stop", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	_, ok = s.registry.Get("job-1")
	assert.False(t, ok)
}

func TestHandleJobGetAndErrors(t *testing.T) {
	s := newTestServer(t)
	s.registry.Start("job-1", "", track.Callbacks{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var sum track.JobSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.Equal(t, "job-1", sum.ID)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/missing/resume", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/explode", nil)
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Contains(t, health, "uptime_seconds")
	assert.Contains(t, health, "clients")
}

func TestWebSocketReceivesJobUpdates(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First message is the job list seed
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seed JobListMessage
	require.NoError(t, conn.ReadJSON(&seed))
	assert.Equal(t, "job_list", seed.Type)

	s.registry.Start("job-1", "", s.JobCallbacks("job-1"))

	var update JobUpdateMessage
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "job_update", update.Type)
	assert.Equal(t, "job-1", update.JobID)
	assert.Equal(t, track.StatusRunning, update.Status)
	assert.Equal(t, "Filling form 1/5", update.Message)
}

func TestWebSocketJobControl(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ControlMessage{
		Type:    "job_control",
		JobID:   "job-1",
		Action:  "start",
		Context: "ctx",
	}))

	assert.Eventually(t, func() bool {
		_, ok := s.registry.Get("job-1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcastDropsWhenClientBufferFull(t *testing.T) {
	s := newTestServer(t)

	// A client that never drains its buffer
	stuck := &Client{server: s, sendMsg: make(chan interface{}, 1), id: "stuck"}
	s.mu.Lock()
	s.clients[stuck] = true
	s.mu.Unlock()

	assert.Equal(t, 1, s.broadcastMessage("first"))
	assert.Equal(t, 0, s.broadcastMessage("second"))

	s.mu.Lock()
	delete(s.clients, stuck)
	s.mu.Unlock()
}
