package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/observability"
)

// MessageHandler consumes inbound user messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg chat.Message)
}

// Config holds the gateway settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// AuthToken, when set, must be presented by the sidecar in the
	// Authorization header as "Bearer <token>".
	AuthToken string
}

// DefaultConfig returns the default gateway settings.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Server routes HTTP traffic: health, metrics and the sidecar websocket.
type Server struct {
	config   Config
	handler  MessageHandler
	bridge   *Bridge
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(config Config, handler MessageHandler, bridge *Bridge, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  config,
		handler: handler,
		bridge:  bridge,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The sidecar is not a browser; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi router for the gateway.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"sidecar_connected": s.bridge.Connected(),
	})
}

// handleWS upgrades the sidecar connection and pumps inbound frames into the
// message handler. Each message is handled in its own goroutine so a slow
// lookup never stalls other users.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.config.AuthToken != "" && r.Header.Get("Authorization") != "Bearer "+s.config.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.bridge.attach(conn)
	defer s.bridge.detach(conn)
	s.logger.Info("transport sidecar connected", "remote", conn.RemoteAddr())

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("sidecar connection dropped", "error", err)
			}
			return
		}

		if frame.Type != frameMessage || frame.From == "" {
			s.logger.Warn("ignoring malformed frame", "type", frame.Type)
			continue
		}
		if !frame.Content.Kind.IsValid() {
			s.logger.Warn("ignoring frame with unknown content kind", "kind", frame.Content.Kind)
			continue
		}

		// Detached from the request context: a message already read keeps
		// being handled even if the sidecar drops mid-flight.
		msg := chat.Message{From: frame.From, Content: frame.Content}
		go s.handler.HandleMessage(context.Background(), msg)
	}
}
