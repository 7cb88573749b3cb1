package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the verified identity behind a request.
type Principal struct {
	Subject string
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Verify(token string) (Principal, error)
}

type claims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies (and issues) HS256 tokens with a shared
// signing key.
type JWTAuthenticator struct {
	signingKey []byte
}

func NewJWTAuthenticator(signingKey string) *JWTAuthenticator {
	return &JWTAuthenticator{signingKey: []byte(signingKey)}
}

// Issue mints a token for the subject, valid for ttl.
func (a *JWTAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.signingKey)
}

func (a *JWTAuthenticator) Verify(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: c.Subject}, nil
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFrom retrieves the verified identity from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequireAuth rejects requests without a valid bearer token and
// injects the Principal for handlers downstream. A websocket client
// cannot set headers, so the token is also accepted as a query
// parameter.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			p, err := auth.Verify(token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
