// Package relay implements the development relay server: a websocket
// endpoint speaking the live session frame protocol plus a small REST API
// for seeding initial stream state. It exists so the client stack can be
// run and tested end to end without the production backend.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
	"github.com/udu/livesync/pkg/version"
)

// Stream is the REST representation of a live session.
type Stream struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Category    string                 `json:"category"`
	Thumbnail   string                 `json:"thumbnail"`
	Streamer    string                 `json:"streamer"`
	Live        bool                   `json:"live"`
	ViewerCount int                    `json:"viewer_count"`
	Chat        []livesync.ChatMessage `json:"chat,omitempty"`
}

// ErrorResponse is the REST error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Server serves the websocket relay and the seed REST API.
type Server struct {
	hub      *Hub
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	streams map[string]Stream
}

// NewServer returns a relay with no registered streams.
func NewServer() *Server {
	return &Server{
		hub:    NewHub(),
		logger: log.ForComponent("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		streams: make(map[string]Stream),
	}
}

// Hub exposes the room hub, mainly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// AddStream registers or replaces a stream in the seed catalog.
func (s *Server) AddStream(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[st.ID] = st
}

// RegisterRoutes attaches the relay endpoints to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("GET /api/streams/active", s.HandleActiveStreams)
	mux.HandleFunc("GET /api/streams/{id}", s.HandleStream)
	mux.HandleFunc("GET /health", s.HandleHealth)
}

// Handler returns the complete relay handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return CorsMiddleware(mux)
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade: %v", err)
		return
	}
	c := newClient(s.hub, conn)
	s.logger.Debugf("client %s connected from %s", c.id, r.RemoteAddr)
	go c.run()
}

func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid path", "Stream id is required")
		return
	}

	s.mu.Lock()
	st, ok := s.streams[id]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "Stream not found", "Stream '"+id+"' does not exist")
		return
	}

	roomID := livesync.RoomForStream(id)
	st.ViewerCount = s.hub.ViewerCount(roomID)
	st.Chat = s.hub.RecentChat(roomID)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) HandleActiveStreams(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	streams := make([]Stream, 0, len(s.streams))
	for _, st := range s.streams {
		if st.Live {
			streams = append(streams, st)
		}
	}
	s.mu.Unlock()

	for i := range streams {
		streams[i].ViewerCount = s.hub.ViewerCount(livesync.RoomForStream(streams[i].ID))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: error, Message: message})
}

// CorsMiddleware allows browser clients on other origins to reach the
// relay's REST API.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
