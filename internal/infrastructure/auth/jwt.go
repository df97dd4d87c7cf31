// Package auth issues and verifies the bearer tokens terminal agents present
// when they sync offline payments.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid terminal token")

// TerminalClaims identifies the terminal a sync request comes from.
type TerminalClaims struct {
	jwt.RegisteredClaims
	TerminalID string `json:"terminal_id"`
}

func GenerateToken(terminalID string, secret []byte, validity time.Duration) (string, error) {
	if terminalID == "" {
		return "", fmt.Errorf("%w: terminal ID is required", ErrInvalidToken)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TerminalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   terminalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		TerminalID: terminalID,
	})
	return token.SignedString(secret)
}

// TerminalFromToken verifies an HS256 token and returns its terminal ID.
func TerminalFromToken(tokenString string, secret []byte) (string, error) {
	claims := &TerminalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.TerminalID == "" {
		return "", ErrInvalidToken
	}
	return claims.TerminalID, nil
}
