// Package statusserver implements the live HTTP health/status surface and
// websocket broadcast, grounded on scheduler/server.go's WebServer
// (upgrader config, broadcast channel, per-client sync.Map registry,
// StatusResponse/SunInfo shape).
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devskill-org/homeenergy/internal/telemetry"
)

// Snapshot is whatever the caller wants broadcast and served as status;
// kept opaque (any) so statusserver doesn't import every domain package.
type Snapshot func() any

// Server serves /api/health, /api/ready, and /api/ws, broadcasting
// Snapshot() to every connected websocket client on an interval.
type Server struct {
	port      int
	startTime time.Time
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
	server    *http.Server
	log       *telemetry.Logger

	snapshot  Snapshot
	isRunning func() bool
	sunInfo   func() *SunInfo

	broadcastInterval time.Duration
}

// SunInfo mirrors the teacher's StatusResponse.Sun field: the sunrise/sunset
// window for the zone's current local day, supplied by the sun callback
// passed to New.
type SunInfo struct {
	Sunrise          string `json:"sunrise"`
	Sunset           string `json:"sunset"`
	DaylightRemaining bool  `json:"daylight_remaining"`
}

// HealthResponse mirrors the teacher's StatusResponse shape, generalized
// from scheduler-specific fields to an opaque Snapshot payload plus the
// ambient uptime/goroutine fields.
type HealthResponse struct {
	Status     string   `json:"status"`
	Timestamp  string   `json:"timestamp"`
	Uptime     string   `json:"uptime"`
	Goroutines int      `json:"goroutines"`
	Sun        *SunInfo `json:"sun,omitempty"`
	Snapshot   any      `json:"snapshot,omitempty"`
}

// New constructs a Server. port<=0 disables it (New returns nil), matching
// the teacher's NewWebServer(scheduler, port) nil-disable convention. sun may
// be nil when the caller has no zone/position configured for a daylight
// window.
func New(port int, snapshot Snapshot, sun func() *SunInfo, isRunning func() bool, log *telemetry.Logger) *Server {
	if port <= 0 {
		return nil
	}
	if log == nil {
		log = telemetry.NewLogger(nil, "statusserver")
	}

	mux := http.NewServeMux()
	s := &Server{
		port:      port,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast:         make(chan []byte, 256),
		done:              make(chan struct{}),
		log:               log,
		snapshot:          snapshot,
		sunInfo:           sun,
		isRunning:         isRunning,
		broadcastInterval: 5 * time.Second,
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start launches the broadcast loop and the HTTP listener in the
// background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go s.broadcastLoop()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("statusserver", "listen_failed", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Stop closes every websocket client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, value any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	running := s.isRunning == nil || s.isRunning()
	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.snapshot != nil {
		resp.Snapshot = s.snapshot()
	}
	if s.sunInfo != nil {
		resp.Sun = s.sunInfo()
	}
	if !running {
		resp.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	running := s.isRunning == nil || s.isRunning()
	body := map[string]any{"ready": running, "timestamp": time.Now().UTC().Format(time.RFC3339)}

	w.Header().Set("Content-Type", "application/json")
	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("statusserver", "ws_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}

	s.clients.Store(conn, true)
	s.sendSnapshotTo(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("statusserver", "ws_error", map[string]any{"error": err.Error()})
			}
			break
		}
	}
}

func (s *Server) sendSnapshotTo(conn *websocket.Conn) {
	if s.snapshot == nil {
		return
	}
	payload, err := json.Marshal(s.snapshot())
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, value any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.snapshot == nil {
				continue
			}
			payload, err := json.Marshal(s.snapshot())
			if err != nil {
				continue
			}
			select {
			case s.broadcast <- payload:
			default:
			}
		case <-s.done:
			return
		}
	}
}
