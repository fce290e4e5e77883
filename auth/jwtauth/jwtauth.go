// Package jwtauth validates bearer JWT access tokens against a statically
// configured trust anchor: either a shared HMAC secret (the common
// deployment, where the data platform issues HS256 tokens) or a remote JWKS
// document for asymmetric keys. No issuer discovery is performed.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth"
)

// Config controls validation of incoming access tokens.
type Config struct {
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// ExpectedAudiences, when non-empty, must intersect the token's aud claim.
	ExpectedAudiences []string
	// AllowedAlgs restricts acceptable signing algorithms. Defaults depend on
	// the key source: HS256 for secrets, RS256 for JWKS.
	AllowedAlgs []string
	// Leeway tolerates clock skew on time-based claims. Defaults to 60s.
	Leeway time.Duration
}

type validator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

var _ auth.Authenticator = (*validator)(nil)

// NewWithSecret constructs an authenticator that verifies HMAC-signed tokens
// with the given shared secret.
func NewWithSecret(secret string, cfg Config) (auth.Authenticator, error) {
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"HS256"}
	}
	key := []byte(secret)
	return newValidator(cfg, func(t *jwt.Token) (any, error) { return key, nil }), nil
}

// NewWithJWKS constructs an authenticator that verifies asymmetric tokens
// against the JWKS document at the given URI. The key set refreshes itself in
// the background for the life of ctx.
func NewWithJWKS(ctx context.Context, jwksURI string, cfg Config) (auth.Authenticator, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newValidator(cfg, kf.Keyfunc), nil
}

func newValidator(cfg Config, kf jwt.Keyfunc) *validator {
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	return &validator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range cfg.AllowedAlgs {
			if alg == a {
				return kf(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}}
}

// CheckAuthentication implements auth.Authenticator.
func (v *validator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", auth.ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", auth.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if len(v.cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", auth.ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", auth.ErrUnauthorized)
	}
	return &auth.User{Subject: sub, ClaimsMap: claims}, nil
}

// audIntersects handles the aud claim's three wire shapes: string, array of
// strings, or array of arbitrary JSON values.
func audIntersects(aud any, wants []string) bool {
	wantSet := make(map[string]struct{}, len(wants))
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok := wantSet[s]; ok {
					return true
				}
			}
		}
	}
	return false
}
