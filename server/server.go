package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fieldpulse/track"
)

// Server is the dashboard-facing surface of the tracker: a WebSocket hub
// that pushes job updates to connected dashboard clients plus a small JSON
// API for summaries and health.
type Server struct {
	registry *track.Registry
	store    track.SnapshotStore // optional; nil disables the snapshot fallback

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt time.Time
	logger    *zap.SugaredLogger
}

// New creates a server over the given registry. store may be nil; it is
// only consulted for job history once the registry is empty.
func New(registry *track.Registry, store track.SnapshotStore, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		registry:   registry,
		store:      store,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  time.Now(),
		logger:     logger.Named("server"),
	}
}

// Routes returns the HTTP handler for the server's endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJob)
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

// Start runs the HTTP server on the given port, blocking until Shutdown is
// called or the listener fails.
func (s *Server) Start(port int) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Infow("Server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for client := range s.clients {
		client.close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infow("Server stopped")
	return err
}

// run is the hub loop: it serializes client registration and removal.
func (s *Server) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)

	// Seed the new client so the dashboard renders without waiting for
	// the next poll tick
	client.trySend(JobListMessage{Type: "job_list", Jobs: s.registry.Summaries()})
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if ok {
		client.close()
		s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
