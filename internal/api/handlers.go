package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-consult/internal/server"
)

const healthTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *App) healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("store health check failed")
			errResp := NewServiceUnavailableError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(errors.New("no identity"))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user", id.UserId).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(id, conn, s.hub, s.log, s.clientOpts)
	if err := s.hub.Register(client); err != nil {
		s.log.Warn().Err(err).Str("user", id.UserId).Msg("rejecting connection")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
