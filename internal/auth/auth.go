// Package auth verifies the session tokens issued by the console's login
// service and carries the authenticated owner through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// CookieName is the session cookie set by the login service.
const CookieName = "token"

var (
	ErrNoToken      = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Verifier resolves the owner of an HTTP request.
type Verifier interface {
	Verify(r *http.Request) (uuid.UUID, error)
}

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens from the session cookie or a Bearer
// Authorization header.
type JWTVerifier struct {
	secret []byte
}

var _ Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(r *http.Request) (uuid.UUID, error) {
	raw := tokenFrom(r)
	if raw == "" {
		return uuid.Nil, ErrNoToken
	}
	return v.Parse(raw)
}

// Parse validates a raw token and returns its owner.
func (v *JWTVerifier) Parse(raw string) (uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad userId claim", ErrInvalidToken)
	}
	return id, nil
}

// IssueToken signs a session token for owner. Used by tests and tooling;
// production tokens come from the login service.
func IssueToken(secret string, owner uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: owner.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ownerKey struct{}

// WithOwner returns a copy of ctx carrying the authenticated owner.
func WithOwner(ctx context.Context, owner uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner.
func OwnerFrom(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := ctx.Value(ownerKey{}).(uuid.UUID)
	return owner, ok
}
