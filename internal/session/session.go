// Package session signs and verifies stateless session credentials.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = time.Hour

// Claims are the identity claims carried by a session credential.
type Claims struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Identity converts the claims into an RBAC principal.
func (c Claims) Identity() (*rbac.Identity, bool) {
	role, err := rbac.ParseRole(c.Role)
	if err != nil || c.Email == "" {
		return nil, false
	}
	return &rbac.Identity{Email: c.Email, Role: role}, true
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Config configures a Service.
type Config struct {
	Key    []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Service issues and verifies HS256 session tokens.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service. An empty key is a configuration error.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("%w: session signing key missing", shared.ErrConfiguration)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "gatekeeper"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{key: cfg.Key, issuer: cfg.Issuer, ttl: cfg.TTL, now: cfg.Now}, nil
}

// TTL returns the default lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a credential for id. A non-positive ttl uses the default.
func (s *Service) Issue(id rbac.Identity, ttl time.Duration) (string, Claims, error) {
	if id.Email == "" || !id.Role.Valid() {
		return "", Claims{}, fmt.Errorf("%w: identity incomplete", shared.ErrValidation)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email: id.Email,
		Role:  id.Role.String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("session: sign: %w", err)
	}
	return token, Claims{Email: id.Email, Role: id.Role.String(), IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks signature, issuer and expiry. Every failure reports false.
func (s *Service) Verify(token string) (Claims, bool) {
	if token == "" {
		return Claims{}, false
	}
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, false
	}
	if parsed.Email == "" || parsed.IssuedAt == nil {
		return Claims{}, false
	}
	if _, err := rbac.ParseRole(parsed.Role); err != nil {
		return Claims{}, false
	}
	return Claims{
		Email:     parsed.Email,
		Role:      parsed.Role,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, true
}

type claimsContextKey struct{}

// ContextWithClaims stores verified claims in ctx.
func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from ctx.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}

// IdentityFromContext resolves the RBAC principal of the current request.
func IdentityFromContext(ctx context.Context) (*rbac.Identity, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}
	return claims.Identity()
}
