package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the calling service identity between internal services.
type Claims struct {
	Service string `json:"svc"`
	jwt.RegisteredClaims
}

// Service issues and validates short-lived HS256 tokens used on internal
// control endpoints.
type Service struct {
	secret    []byte
	expiresIn time.Duration
}

// NewService returns a configured token service.
func NewService(secret string, expiresIn time.Duration) *Service {
	if expiresIn <= 0 {
		expiresIn = 5 * time.Minute
	}
	return &Service{secret: []byte(secret), expiresIn: expiresIn}
}

// Issue signs a token naming the calling service.
func (s *Service) Issue(service string) (string, error) {
	if service == "" {
		return "", errors.New("token: service name is required")
	}

	now := time.Now().UTC()
	claims := Claims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiresIn)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Validate verifies a token and returns its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}

	return nil, errors.New("token: invalid claims")
}
