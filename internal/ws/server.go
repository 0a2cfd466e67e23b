package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Options struct {
	// AllowedOrigins lists the browser origins accepted on upgrade. Empty or "*" allows any.
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
}

type Server struct {
	hub      *Hub
	opts     Options
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, opts Options) *Server {
	s := &Server{
		hub:  hub,
		opts: opts,
	}
	s.upgrader = &websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || lo.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}

	conn := NewConnection(s.hub, ws, s.opts.SendBuffer)
	slog.Info("user connected", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	if err := conn.Handle(r.Context()); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			slog.Info("connection closed", "conn_id", conn.ID())
			return
		}
		slog.Warn("connection error", "conn_id", conn.ID(), "error", err)
	}
}
