// Package httpapi is the read-only REST surface: token issuance plus
// agent and balance views for dashboards and tooling.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented token can fail.
var ErrInvalidToken = errors.New("httpapi: invalid token")

// tokenTTL bounds how long an issued token stays valid.
const tokenTTL = 24 * time.Hour

type claims struct {
	ChatID int64 `json:"chat_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 tokens bound to a chat identity.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer wraps the signing secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue returns a signed token for chatID.
func (i *TokenIssuer) Issue(chatID int64) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ChatID: chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the chat identity it carries.
func (i *TokenIssuer) Verify(tokenString string) (int64, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	return c.ChatID, nil
}

type contextKey struct{}

// chatIDFrom returns the authenticated chat id stored by the
// middleware.
func chatIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok
}

// authenticate wraps next with Bearer-token verification.
func (i *TokenIssuer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		chatID, err := i.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKey{}, chatID)
		next(w, r.WithContext(ctx))
	}
}
