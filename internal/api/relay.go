package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/server"
	"go.uber.org/zap"
)

// RelayApp serves the websocket endpoint and the admin API.
type RelayApp struct {
	log            *zap.SugaredLogger
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *zap.SugaredLogger, cs *server.ChatServer, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.HTTP.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/rooms", s.adminMiddleware(s.listRooms))
	mux.HandleFunc("DELETE /api/rooms", s.adminMiddleware(s.clearAll))
	mux.HandleFunc("GET /api/rooms/{room}/members", s.adminMiddleware(s.roomMembers))
	mux.HandleFunc("GET /api/rooms/{room}/messages", s.adminMiddleware(s.roomMessages))
	mux.HandleFunc("DELETE /api/rooms/{room}", s.adminMiddleware(s.clearRoom))
	mux.HandleFunc("DELETE /api/rooms/{room}/messages/{id}", s.adminMiddleware(s.deleteRoomMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.adminMiddleware(s.deleteMessage))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.HTTP.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *RelayApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *RelayApp) Start() error {
	s.log.Infof("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
