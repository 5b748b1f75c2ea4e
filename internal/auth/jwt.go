// Package auth issues and checks the HS256 bearer tokens that guard the
// mutating HTTP routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("no signing secret configured")
)

// Claims carries the registered claims plus the set of archive keys the
// bearer may write to. An empty Feeds list grants every feed.
type Claims struct {
	jwt.RegisteredClaims
	Feeds []string `json:"feeds,omitempty"`
}

// GenerateToken signs a token for subject valid for ttl.
func GenerateToken(subject string, secret []byte, ttl time.Duration, feeds ...string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Feeds: feeds,
	})

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Allows reports whether the claims permit writes to the feed with key.
func (c *Claims) Allows(key string) bool {
	if len(c.Feeds) == 0 {
		return true
	}
	for _, k := range c.Feeds {
		if k == key {
			return true
		}
	}
	return false
}
