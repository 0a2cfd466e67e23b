package http

import (
	"chatify/internal/api"
	"chatify/internal/ws"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer serves the liveness probe and the relay websocket. Open
// websocket connections end when ctx is cancelled.
func NewAPIServer(ctx context.Context, hub *ws.Hub, opts ws.Options, addr string) *APIServer {
	server := ws.NewServer(hub, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", api.HealthHandler)
	mux.HandleFunc("GET /ws", server.HandleConnections)

	if addr == "" {
		addr = ":3000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:        addr,
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve is Start on an already bound listener.
func (s *APIServer) Serve(l net.Listener) error {
	slog.Info("server started", "addr", l.Addr().String())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
