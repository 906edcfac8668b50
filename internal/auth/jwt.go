package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload
type Claims struct {
	UserID string `json:"uid"`
	jwtlib.RegisteredClaims
}

// Tokens signs and verifies actor tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. ttl <= 0 defaults to 30 days.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign creates a signed token for the given user ID
func (t *Tokens) Sign(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := t.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token string and returns the actor it names
func (t *Tokens) Parse(tokenStr string) (Actor, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(tok *jwtlib.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwtlib.WithTimeFunc(t.now))
	if err != nil {
		return Anonymous, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Anonymous, fmt.Errorf("invalid token")
	}
	return Authenticated(claims.UserID), nil
}
