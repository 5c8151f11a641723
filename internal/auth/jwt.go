// Package auth provides the operator-session authentication used by the
// admin introspection API. It has no bearing on queue-peer authentication,
// which this system deliberately does not implement.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims identifies the operator a token was minted for.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService mints and validates operator session tokens.
type JWTService struct {
	secret     string
	expiration time.Duration
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret string, expirationSecs int) *JWTService {
	return &JWTService{
		secret:     secret,
		expiration: time.Duration(expirationSecs) * time.Second,
	}
}

// GenerateToken mints a signed token for the given username.
func (j *JWTService) GenerateToken(username string) (string, int64, error) {
	if j.secret == "" {
		return "", 0, errors.New("JWT secret is not configured")
	}

	expiresAt := time.Now().Add(j.expiration)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.secret))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Unix(), nil
}

// ValidateToken parses and validates a token, returning its claims.
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if j.secret == "" {
		return nil, errors.New("JWT secret is not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(j.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// VerifyPassword verifies a password against a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
