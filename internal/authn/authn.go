// Package authn implements the per-request identity check named in
// spec.md §1's collaborator layer: verify a bearer token and attach the
// caller's subject to the request, nothing more. It performs no
// authorization — that is explicitly out of scope — and the engine
// never sees the token or the subject. Grounded on the JWT verification
// shape in FouGuai-FUZOJ's auth_service.go, trimmed down to
// verify-and-pass-through.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const subjectKey contextKey = 0

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("authn: missing bearer token")

// Verifier checks bearer tokens signed with a single shared secret.
type Verifier struct {
	secret []byte
}

// New builds a Verifier. An empty secret means every request is
// rejected; callers that want auth disabled should not mount the
// middleware at all rather than pass an empty secret.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Subject extracts and verifies the bearer token from r, returning the
// token's "sub" claim.
func (v *Verifier) Subject(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("authn: token has no subject claim")
	}
	return sub, nil
}

// Middleware verifies the bearer token on every request, rejecting with
// 401 on failure and otherwise attaching the subject to the request
// context for downstream handlers (e.g. internal/ratelimit keying by
// subject instead of remote address).
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := v.Subject(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the subject attached by Middleware, or ""
// if none is present.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}
