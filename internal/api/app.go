package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-consult/internal/auth"
	"github.com/npezzotti/go-consult/internal/config"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/server"
	"github.com/rs/zerolog"
)

type App struct {
	log            zerolog.Logger
	srv            *http.Server
	hub            *server.Hub
	verifier       *auth.Verifier
	store          database.Repository
	allowedOrigins []string
	clientOpts     server.ClientOptions
}

func NewApp(mux *http.ServeMux, logger zerolog.Logger, hub *server.Hub, verifier *auth.Verifier, store database.Repository, cfg *config.Config) *App {
	s := &App{
		log:            logger.With().Str("module", "api").Logger(),
		hub:            hub,
		verifier:       verifier,
		store:          store,
		allowedOrigins: cfg.AllowedOrigins,
		clientOpts: server.ClientOptions{
			ReadLimit: cfg.Client.ReadLimit,
			PongWait:  cfg.Client.PongWait,
			RateLimit: cfg.Client.RateLimit,
			RateBurst: cfg.Client.RateBurst,
		},
	}

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
