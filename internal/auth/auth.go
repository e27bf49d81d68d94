package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-consult/internal/types"
)

const (
	subjectClaim = "sub"
	roleClaim    = "role"
	expClaim     = "exp"

	tokenCookieKey = "token"
	tokenQueryKey  = "access_token"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates bearer tokens issued by the identity service.
type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey []byte) *Verifier {
	return &Verifier{signingKey: signingKey}
}

// Issue signs a token for id. Only used by tooling and tests; production
// tokens come from the identity service.
func (v *Verifier) Issue(id types.Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: id.UserId,
		roleClaim:    string(id.Role),
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(v.signingKey)
}

func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	if tokenString == "" {
		return types.Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	// exp is optional for MapClaims validation, but not for us
	if _, ok := claims[expClaim]; !ok {
		return types.Identity{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	sub, _ := claims[subjectClaim].(string)
	if sub == "" {
		return types.Identity{}, fmt.Errorf("%w: invalid sub claim", ErrInvalidToken)
	}

	role, _ := claims[roleClaim].(string)
	if !types.Role(role).Valid() {
		return types.Identity{}, fmt.Errorf("%w: invalid role claim %q", ErrInvalidToken, role)
	}

	return types.Identity{UserId: sub, Role: types.Role(role)}, nil
}

// TokenFromRequest looks for a bearer token in the Authorization header, the
// access_token query parameter and the token cookie, in that order. Browsers
// cannot set headers on websocket upgrades, hence the fallbacks.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token
	}

	if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		return cookie.Value
	}

	return ""
}
