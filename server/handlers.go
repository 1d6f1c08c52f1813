package server

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/fieldpulse/track"
)

// handleJobs serves GET /api/jobs: the live job summaries, falling back to
// the persisted snapshot when nothing is currently tracked so the dashboard
// can still show the last known state after a completed run.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := s.registry.Summaries()
	source := "live"
	if len(jobs) == 0 && s.store != nil {
		snap, err := s.store.Load()
		if err != nil {
			s.logger.Warnw("Snapshot load failed for job listing", "error", err)
		} else {
			jobs = snap.Summaries
			source = "snapshot"
		}
	}
	if jobs == nil {
		jobs = []track.JobSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"source": source,
	})
}

// handleJob serves /api/jobs/{id} and the tracking actions
// /api/jobs/{id}/{start|stop|pause|resume}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job id")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		sum, ok := s.registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "Job not tracked")
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	switch parts[1] {
	case "start":
		var body struct {
			Context string `json:"context"`
		}
		// Body is optional for start
		if r.ContentLength > 0 {
			if err := readJSON(w, r, &body); err != nil {
				return
			}
		}
		s.registry.Start(id, body.Context, s.JobCallbacks(id))
	case "stop":
		s.registry.Stop(id)
		s.broadcastJobList()
	case "pause":
		s.registry.Pause(id)
		s.broadcastJobList()
	case "resume":
		if !s.registry.Resume(id, s.JobCallbacks(id)) {
			writeError(w, http.StatusNotFound, "Job not tracked")
			return
		}
	default:
		writeError(w, http.StatusNotFound, "Unknown action")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth serves GET /api/health with process and memory stats.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	health := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"clients":        s.clientCount(),
		"tracked_jobs":   len(s.registry.Summaries()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if v, err := mem.VirtualMemory(); err == nil {
		health["memory"] = map[string]interface{}{
			"total_bytes":     v.Total,
			"available_bytes": v.Available,
			"used_percent":    v.UsedPercent,
		}
	} else {
		s.logger.Debugw("Failed to read memory stats", "error", err)
	}

	writeJSON(w, http.StatusOK, health)
}
