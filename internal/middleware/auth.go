package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/formlane/formlane/internal/services"
)

type authCtxKey int

const authKey authCtxKey = 7

type Claims struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Standing string `json:"standing"`
	jwt.RegisteredClaims
}

func secret() []byte {
	s := os.Getenv("FORMLANE_JWT_SECRET")
	if s == "" {
		s = "formlane-dev-secret"
	}
	return []byte(s)
}

func SignToken(uid, email, standing string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{UID: uid, Email: email, Standing: standing, RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(ttl))}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

func parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) { return secret(), nil })
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// Attach auth claims to context if Authorization header present and valid.
func WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(authKey).(*Claims); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromContext derives the engine's principal from the verified
// claims, or nil for anonymous callers.
func PrincipalFromContext(ctx context.Context) *services.Principal {
	c, ok := ctx.Value(authKey).(*Claims)
	if !ok {
		return nil
	}
	standing := services.Standing(c.Standing)
	switch standing {
	case services.StandingAdmin, services.StandingUser:
	default:
		standing = services.StandingUser
	}
	return &services.Principal{Email: c.Email, Standing: standing}
}
