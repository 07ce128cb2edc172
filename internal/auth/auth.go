// Package auth verifies the bearer tokens that carry a user's id and
// classroom role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/BioHazard786/classmesh/internal/registry"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Headers that carry the caller's identity when authentication is disabled.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

// Claims identifies a classroom user. Subject holds the user id.
type Claims struct {
	Role  registry.Role `json:"role"`
	Name  string        `json:"name,omitempty"`
	Email string        `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

func (c *Claims) IsTeacher() bool { return c.Role == registry.RoleTeacher }

// Authenticator signs and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
}

// New returns nil when secret is empty, which disables authentication.
func New(secret string) *Authenticator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for the given user.
func (a *Authenticator) Issue(userID string, role registry.Role, name, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Name:  name,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies raw and returns its claims.
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	if claims.Role != registry.RoleTeacher && claims.Role != registry.RoleStudent {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// Authenticate reads the caller's identity from r. With authentication
// disabled it trusts the X-User-* headers and returns nil claims when they
// are absent.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	if a == nil {
		return headerClaims(r), nil
	}
	raw := bearer(r)
	if raw == "" {
		return nil, ErrMissingToken
	}
	return a.Parse(raw)
}

// bearer takes the token from the Authorization header, or from the token
// query parameter for websocket upgrades.
func bearer(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func headerClaims(r *http.Request) *Claims {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil
	}
	return &Claims{
		Role:             registry.Role(strings.ToLower(r.Header.Get(HeaderUserRole))),
		Name:             r.Header.Get(HeaderUserName),
		RegisteredClaims: jwt.RegisteredClaims{Subject: id},
	}
}

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}
