package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-consult/internal/auth"
	"github.com/npezzotti/go-consult/internal/types"
)

type contextKey int

const identityKey contextKey = iota

func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)
	return id, ok
}

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			errResp := NewUnauthorizedError(errors.New("missing token"))
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		id, err := s.verifier.Verify(token)
		if err != nil {
			s.log.Debug().Err(err).Msg("rejected token")
			errResp := NewUnauthorizedError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}
