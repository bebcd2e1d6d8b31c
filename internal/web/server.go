// Package web serves the sprite registry API and the WebSocket agent bridge.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justinmoon/cockpit/internal/web/bridge"
	"github.com/justinmoon/cockpit/internal/web/registry"
)

const writeTimeout = 10 * time.Second

// Server exposes the registry over REST and agent sessions over WebSocket.
type Server struct {
	store    *registry.Store
	bridge   *bridge.Bridge
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(store *registry.Store, br *bridge.Bridge, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		bridge: br,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sprites", s.listSprites)
	mux.HandleFunc("POST /api/sprites", s.createSprite)
	mux.HandleFunc("GET /api/sprites/{id}", s.getSprite)
	mux.HandleFunc("DELETE /api/sprites/{id}", s.deleteSprite)
	mux.HandleFunc("GET /ws/{id}", s.serveWS)
	return mux
}

func (s *Server) listSprites(w http.ResponseWriter, r *http.Request) {
	sprites, err := s.store.List(r.Context())
	if err != nil {
		s.internalError(w, "list sprites", err)
		return
	}
	writeJSON(w, http.StatusOK, sprites)
}

func (s *Server) createSprite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		CWD    string `json:"cwd"`
		Repo   string `json:"repo"`
		Branch string `json:"branch"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.CWD) == "" {
		writeError(w, http.StatusBadRequest, "name and cwd are required")
		return
	}
	sp, err := s.store.Create(r.Context(), registry.Sprite{
		Name:   req.Name,
		CWD:    req.CWD,
		Repo:   req.Repo,
		Branch: req.Branch,
		URL:    req.URL,
	})
	if err != nil {
		s.internalError(w, "create sprite", err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (s *Server) getSprite(w http.ResponseWriter, r *http.Request) {
	sp, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sprite not found")
		return
	}
	if err != nil {
		s.internalError(w, "get sprite", err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) deleteSprite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.bridge.Dispose(id); err != nil && s.logger != nil {
		s.logger.Warn("session dispose failed", "sprite", id, "err", err)
	}
	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sprite not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete sprite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// inboundMessage is one client → server frame.
type inboundMessage struct {
	Type    string `json:"type"`
	Payload struct {
		Text string `json:"text"`
	} `json:"payload"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sprite not found")
		} else {
			s.internalError(w, "get sprite", err)
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	t := &wsTransport{conn: conn}
	defer conn.Close()

	if err := s.bridge.Connect(r.Context(), id, t); err != nil {
		if s.logger != nil {
			s.logger.Warn("session connect failed", "sprite", id, "err", err)
		}
		_ = bridge.SendError(t, err.Error())
		return
	}
	defer s.bridge.TransportClosed(r.Context(), id, t)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = bridge.SendError(t, "malformed message")
			continue
		}
		switch msg.Type {
		case "prompt":
			s.bridge.Prompt(r.Context(), id, msg.Payload.Text, t)
		case "abort":
			s.bridge.Abort(id, t)
		default:
			_ = bridge.SendError(t, "unknown message type: "+msg.Type)
		}
	}
}

// wsTransport adapts one websocket connection to the bridge's transport.
// The mutex serializes writes: gorilla connections allow one writer at a
// time, and events arrive from the session goroutine while error frames can
// come from the read loop.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error(op+" failed", "err", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
