package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "comercial-mva"

// ErrInvalidToken is returned for session tokens that fail verification.
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims binds a browser to one server-side session.
type SessionClaims struct {
	jwt.RegisteredClaims
	FunnelID string `json:"fid"`
}

// SessionTokens issues and verifies HS256 session tokens.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewSessionTokens creates a token service. An empty secret generates a
// random one, which invalidates tokens across restarts.
func NewSessionTokens(secret string, ttl time.Duration) (*SessionTokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	return &SessionTokens{secret: key, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (t *SessionTokens) WithClock(clock func() time.Time) *SessionTokens {
	t.clock = clock
	return t
}

// Issue signs a token for a session.
func (t *SessionTokens) Issue(sessionID, funnelID string) (string, error) {
	now := t.clock()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		FunnelID: funnelID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks a token and returns its claims.
func (t *SessionTokens) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
