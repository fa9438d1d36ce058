// ABOUTME: Signed OAuth state values for the install round-trip
// ABOUTME: HS256 JWTs carrying a nonce and the redirect target, rejected once expired

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// State errors
var (
	ErrInvalidState = errors.New("invalid install state")
	ErrExpiredState = errors.New("install state expired")
)

const stateIssuer = "coven-fleet"

// stateClaims is the payload of an install state token.
type stateClaims struct {
	RedirectURI string `json:"redirect_uri,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks install state values.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewStateSigner creates a signer. A non-positive ttl means ten minutes.
func NewStateSigner(secret []byte, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: secret, ttl: ttl}
}

// Issue returns a new state bound to redirectURI.
func (s *StateSigner) Issue(redirectURI string) (string, error) {
	return s.issueAt(time.Now(), redirectURI)
}

func (s *StateSigner) issueAt(now time.Time, redirectURI string) (string, error) {
	claims := stateClaims{
		RedirectURI: redirectURI,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a state value and returns the redirect URI it was issued for.
func (s *StateSigner) Verify(state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("%w: missing", ErrInvalidState)
	}

	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(stateIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredState
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !token.Valid {
		return "", ErrInvalidState
	}

	return claims.RedirectURI, nil
}
