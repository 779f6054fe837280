package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hchat/internal/realtime"

	"github.com/gorilla/websocket"
)

type ServerConfig struct {
	Logger       *slog.Logger
	Buffer       int
	WriteTimeout time.Duration
	// MaxMessage bounds a single inbound frame in bytes.
	MaxMessage int64
}

// Server upgrades HTTP requests to websocket connections on the broker.
type Server struct {
	broker   *realtime.Broker
	upgrader *websocket.Upgrader
	log      *slog.Logger
	cfg      ServerConfig

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(broker *realtime.Broker, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = realtime.DefaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		broker: broker,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The chat has no accounts; any origin may connect.
			},
		},
		log:    cfg.Logger,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading to websocket", "err", err)
		return
	}
	if s.cfg.MaxMessage > 0 {
		conn.SetReadLimit(s.cfg.MaxMessage)
	}

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	unregister := context.AfterFunc(s.ctx, stop)
	defer unregister()

	c := NewConnection(conn, func(sink realtime.Sink) session {
		return s.broker.Connect(sink)
	}, s.cfg.Buffer, s.cfg.WriteTimeout)

	if err := c.Handle(ctx); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("connection closed", "err", err)
	}
}

// Close ends every open connection. Hijacked connections are not covered
// by http.Server.Shutdown.
func (s *Server) Close() {
	s.cancel()
}
