// Package middleware provides the HTTP cross-cutting layers: requester
// identity and per-system rate limiting.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

type contextKey string

const requesterKey contextKey = "requester-system"

// RequesterHeader names the identity fallback header used when no JWT
// secret is configured.
const RequesterHeader = "X-Requester-System"

// RequesterFrom returns the authenticated requester system name, if any.
func RequesterFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(requesterKey).(string)
	return name, ok && name != ""
}

// WithRequester attaches the requester system name to the context.
// Exposed for tests and internal callers.
func WithRequester(ctx context.Context, system string) context.Context {
	return context.WithValue(ctx, requesterKey, system)
}

// Identity authenticates the requester system on every request. With a
// secret configured it requires a bearer token whose sys claim names the
// system; without one it trusts the X-Requester-System header, which is
// only acceptable behind a gateway that sets it.
type Identity struct {
	secret []byte
	log    *logger.Logger
}

// NewIdentity constructs the identity middleware.
func NewIdentity(jwtSecret string, log *logger.Logger) *Identity {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Identity{secret: secret, log: log}
}

// Wrap returns a handler that rejects unauthenticated requests with 401.
func (i *Identity) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		system, err := i.resolve(r)
		if err != nil {
			i.log.WithError(err).WithField("path", r.URL.Path).Debug("request rejected")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, `{"error":%q}`, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), system)))
	})
}

func (i *Identity) resolve(r *http.Request) (string, error) {
	if i.secret == nil {
		system := strings.TrimSpace(r.Header.Get(RequesterHeader))
		if system == "" {
			return "", fmt.Errorf("missing %s header", RequesterHeader)
		}
		return system, nil
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	system, _ := claims["sys"].(string)
	if system == "" {
		return "", fmt.Errorf("token carries no system name")
	}
	return system, nil
}
