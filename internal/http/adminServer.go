package http

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"sync"

	"hchat/internal/api"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(broker api.Broker, gatherer prometheus.Gatherer, logger *slog.Logger, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(broker, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", adminHandler.HealthHandler)
	mux.HandleFunc("GET /admin/rooms/{id}/presence", adminHandler.PresenceHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
