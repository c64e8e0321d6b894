// ABOUTME: Credential verifiers for the MCP endpoint: static token, bcrypt hash and HS256 JWT
// ABOUTME: NewVerifier picks one from the auth config section

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/datagate/internal/config"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// MinSecretLength is the shortest JWT secret accepted.
const MinSecretLength = 32

// TokenVerifier checks a bearer token and returns the principal it names.
type TokenVerifier interface {
	Verify(token string) (principal string, err error)
}

// StaticVerifier accepts exactly one configured token.
type StaticVerifier struct {
	token []byte
}

// NewStaticVerifier creates a verifier for a plain shared token.
func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: []byte(token)}
}

// Verify compares in constant time.
func (v *StaticVerifier) Verify(token string) (string, error) {
	if len(v.token) == 0 || subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
		return "", ErrInvalidToken
	}
	return "shared", nil
}

// HashVerifier accepts a token matching a bcrypt hash, so the plain token
// never has to live in the config file.
type HashVerifier struct {
	hash []byte
}

// NewHashVerifier validates the hash format up front.
func NewHashVerifier(hash string) (*HashVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth.token_hash: %w", err)
	}
	return &HashVerifier{hash: []byte(hash)}, nil
}

func (v *HashVerifier) Verify(token string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return "", ErrInvalidToken
	}
	return "shared", nil
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the principal from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a token for principal that expires after expiresIn.
func (v *JWTVerifier) Generate(principal string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principal,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// NewVerifier returns the verifier for cfg, or nil when auth is disabled.
func NewVerifier(cfg config.AuthConfig) (TokenVerifier, error) {
	switch cfg.Type {
	case "", config.AuthNone:
		return nil, nil
	case config.AuthBearer:
		if cfg.TokenHash != "" {
			return NewHashVerifier(cfg.TokenHash)
		}
		if cfg.Token == "" {
			return nil, errors.New("bearer auth requires a token")
		}
		return NewStaticVerifier(cfg.Token), nil
	case config.AuthJWT:
		return NewJWTVerifier([]byte(cfg.JWTSecret))
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}
