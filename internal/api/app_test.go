package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-consult/internal/auth"
	"github.com/npezzotti/go-consult/internal/config"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/server"
	"github.com/npezzotti/go-consult/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type pingStore struct {
	database.MockRepository
	err error
}

func (p *pingStore) Ping(ctx context.Context) error {
	return p.err
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		SigningKey:     []byte("secret"),
	}
}

func TestNewApp(t *testing.T) {
	cfg := testConfig()
	cfg.Client.RateLimit = 3
	hub := &server.Hub{}
	verifier := auth.NewVerifier(cfg.SigningKey)
	store := &database.MockRepository{}

	app := NewApp(http.NewServeMux(), testutil.TestLogger(t), hub, verifier, store, cfg)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr)
	assert.Same(t, hub, app.hub)
	assert.Same(t, verifier, app.verifier)
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, float64(3), app.clientOpts.RateLimit)
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		store  database.Repository
		status int
	}{
		{name: "store without ping", store: &database.MockRepository{}, status: http.StatusOK},
		{name: "healthy store", store: &pingStore{}, status: http.StatusOK},
		{name: "unhealthy store", store: &pingStore{err: errors.New("connection refused")}, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(http.NewServeMux(), testutil.TestLogger(t), &server.Hub{}, auth.NewVerifier([]byte("secret")), tt.store, testConfig())

			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	app := &App{allowedOrigins: []string{"http://localhost:3000"}}

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://evil.example", want: false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, app.checkOrigin(req), "origin %q", tt.origin)
	}
}
