package http

import (
	"chatify/internal/api"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(presence api.PresenceSource, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(presence)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/presence", adminHandler.PresenceHandler)

	if addr == "" {
		addr = "localhost:3001"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("admin API started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Serve(l net.Listener) error {
	slog.Info("admin API started", "addr", l.Addr().String())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
