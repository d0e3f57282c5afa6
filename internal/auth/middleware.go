package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/otomatty/zedi-sub000/internal/apperr"
)

type ownerKey struct{}

// WithOwnerID returns ctx carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerID returns the owner id set by Middleware.
func OwnerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok && id != ""
}

// OwnerFromRequest adapts OwnerID for handlers that take a request.
func OwnerFromRequest(r *http.Request) (string, bool) {
	return OwnerID(r.Context())
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware verifies the bearer token, resolves the owner and stores it in
// the request context. Missing or invalid tokens fail with
// apperr.ErrUnauthenticated, unknown identities with apperr.ErrUnprovisioned.
func Middleware(v Verifier, resolver *OwnerResolver, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				fail(w, r, apperr.ErrUnauthenticated)
				return
			}
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				fail(w, r, err)
				return
			}
			owner, err := resolver.Resolve(r.Context(), id)
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), owner)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}
