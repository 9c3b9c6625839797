// ABOUTME: Minting and verification of HS256 agent tokens sharing one secret
// ABOUTME: The agent ID travels as the subject claim; tokens are minted by the CLI

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuer tags tokens minted by this gateway. Tokens signed for another
// service with the same secret are rejected on the issuer check.
const issuer = "zapdesk-gateway"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier resolves a bearer token to an agent ID.
type TokenVerifier interface {
	Verify(tokenString string) (agentID string, err error)
}

// JWTVerifier mints and verifies HS256 agent tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier around the shared signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates signature, expiry, and issuer, and returns the agent ID
// from the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	default:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for the agent, valid for ttl from now.
func (v *JWTVerifier) Generate(agentID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   agentID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
