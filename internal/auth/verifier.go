// Package auth verifies bearer identities and resolves them to owner ids.
// Identity issuance is external; this package only checks what it is given.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/otomatty/zedi-sub000/internal/apperr"
)

// Identity is a verified caller.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates a bearer token.
type Verifier interface {
	// Verify returns the identity behind token or an error wrapping
	// apperr.ErrUnauthenticated.
	Verify(ctx context.Context, token string) (*Identity, error)
	Close() error
}

// StaticVerifier accepts a single shared token, for single-user deployments
// and development.
type StaticVerifier struct {
	Token   string
	Subject string
}

// Verify compares token in constant time.
func (v StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if v.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(v.Token)) != 1 {
		return nil, apperr.ErrUnauthenticated
	}
	return &Identity{Subject: v.Subject}, nil
}

func (StaticVerifier) Close() error { return nil }

// Claims is the JWT claim set read from access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// allowedAlgs prevents algorithm confusion; only asymmetric keys from the
// JWKS are accepted.
var allowedAlgs = []string{"RS256", "ES256"}

// JWTVerifier validates JWTs against a key source such as a JWKS endpoint.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	logger  *slog.Logger
}

// JWTOptions restricts accepted tokens.
type JWTOptions struct {
	Issuer   string
	Audience string
}

// NewJWKSVerifier creates a verifier that fetches public keys from jwksURL.
// Keys are cached and refreshed by keyfunc based on HTTP cache headers.
func NewJWKSVerifier(ctx context.Context, jwksURL string, opts JWTOptions, logger *slog.Logger) (*JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("auth: JWKS URL cannot be empty")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: create JWKS client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)
	return NewJWTVerifier(jwks.Keyfunc, opts, logger), nil
}

// NewJWTVerifier creates a verifier over an arbitrary key function.
func NewJWTVerifier(kf jwt.Keyfunc, opts JWTOptions, logger *slog.Logger) *JWTVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgs),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &JWTVerifier{keyfunc: kf, parser: jwt.NewParser(parserOpts...), logger: logger}
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		v.logger.Debug("token rejected", "error", err.Error())
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return nil, apperr.ErrUnauthenticated
	}
	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return nil, fmt.Errorf("%w: missing subject", apperr.ErrUnauthenticated)
	}
	return &Identity{Subject: claims.Subject, Email: claims.Email}, nil
}

// Close is a no-op; keyfunc manages its own refresh goroutine lifetime via
// the context it was created with.
func (v *JWTVerifier) Close() error {
	return nil
}
