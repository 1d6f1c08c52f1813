package server

import (
	"time"

	"github.com/teranos/fieldpulse/track"
)

// broadcastMessage sends a message to all connected clients. Returns the
// number of clients that accepted the message (buffer not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.trySend(msg) {
			sent++
		}
	}
	return sent
}

// broadcastJobList pushes the current summaries to every client; used after
// state changes that do not flow through per-job callbacks (stop, pause).
func (s *Server) broadcastJobList() {
	s.broadcastMessage(JobListMessage{Type: "job_list", Jobs: s.registry.Summaries()})
}

// JobCallbacks returns tracking callbacks that broadcast the job's progress
// to every connected dashboard client. The registry invokes them from its
// own goroutines; trySend never blocks, so a slow client only misses
// messages.
func (s *Server) JobCallbacks(jobID string) track.Callbacks {
	return track.Callbacks{
		OnUpdate: func(status track.Status, message string) {
			s.broadcastMessage(JobUpdateMessage{
				Type:      "job_update",
				JobID:     jobID,
				Status:    status,
				Message:   message,
				Timestamp: time.Now().Unix(),
			})
		},
		OnComplete: func(res track.Completion) {
			s.logger.Infow("Job finished",
				"job_id", jobID,
				"forced", res.Forced,
				"message", res.Message)
			s.broadcastMessage(JobCompleteMessage{
				Type:      "job_complete",
				JobID:     jobID,
				Forced:    res.Forced,
				Message:   res.Message,
				Timestamp: time.Now().Unix(),
			})
		},
		OnError: func(message string) {
			s.logger.Warnw("Job errored", "job_id", jobID, "message", message)
			s.broadcastMessage(JobErrorMessage{
				Type:      "job_error",
				JobID:     jobID,
				Message:   message,
				Timestamp: time.Now().Unix(),
			})
		},
	}
}
