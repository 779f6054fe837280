package http

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"sync"

	"hchat/internal/api"
	"hchat/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer serves the realtime websocket endpoint and the read-only
// messages API.
func NewAPIServer(wsServer *ws.Server, store api.Store, logger *slog.Logger, addr string) *APIServer {
	apiHandlers := api.New(store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rooms/{id}", apiHandlers.RoomHandler)
	mux.HandleFunc("GET /api/rooms/{id}/messages", apiHandlers.MessagesHandler)

	// WebSocket endpoint
	mux.HandleFunc("/realtime", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the route table for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
