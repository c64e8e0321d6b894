// ABOUTME: Unit tests for the static, bcrypt and JWT credential verifiers
// ABOUTME: Also covers choosing a verifier from the auth config section

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/datagate/internal/config"
)

var testSecret = []byte("datagate-test-secret-of-32-bytes")

func mustJWT(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := mustJWT(t)

	token, err := verifier.Generate("reporting-bot", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "reporting-bot" {
		t.Errorf("Verify() = %q, want %q", got, "reporting-bot")
	}
}

func TestJWTVerifier_ShortSecret(t *testing.T) {
	if _, err := NewJWTVerifier([]byte("short")); err == nil {
		t.Error("NewJWTVerifier() should reject a short secret")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := mustJWT(t)

	other, err := NewJWTVerifier([]byte("another-secret-that-is-32-bytes!"))
	if err != nil {
		t.Fatal(err)
	}
	wrongSecret, _ := other.Generate("x", time.Hour)

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrInvalidToken},
		{"garbage token", "not-a-jwt-token", ErrInvalidToken},
		{"malformed JWT", "header.payload.signature", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"other algorithm", hs512, ErrInvalidToken},
		{"missing sub", noSub, ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := mustJWT(t)

	token, err := verifier.Generate("reporting-bot", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("s3cret")

	if _, err := v.Verify("s3cret"); err != nil {
		t.Errorf("Verify(correct) error = %v", err)
	}
	for _, bad := range []string{"", "s3cre", "s3cret!", "S3CRET"} {
		if _, err := v.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", bad, err)
		}
	}

	if _, err := NewStaticVerifier("").Verify(""); err == nil {
		t.Error("an empty configured token must never match")
	}
}

func TestHashVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewHashVerifier(string(hash))
	if err != nil {
		t.Fatalf("NewHashVerifier() error = %v", err)
	}

	if _, err := v.Verify("s3cret"); err != nil {
		t.Errorf("Verify(correct) error = %v", err)
	}
	if _, err := v.Verify("nope"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(wrong) error = %v, want ErrInvalidToken", err)
	}

	if _, err := NewHashVerifier("plain-text"); err == nil {
		t.Error("NewHashVerifier() should reject a value that is not a bcrypt hash")
	}
}

func TestNewVerifier(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)

	tests := []struct {
		name    string
		cfg     config.AuthConfig
		wantNil bool
		wantErr bool
		check   func(TokenVerifier) bool
	}{
		{name: "none", cfg: config.AuthConfig{Type: config.AuthNone}, wantNil: true},
		{name: "unset", cfg: config.AuthConfig{}, wantNil: true},
		{name: "static", cfg: config.AuthConfig{Type: config.AuthBearer, Token: "t"},
			check: func(v TokenVerifier) bool { _, ok := v.(*StaticVerifier); return ok }},
		{name: "hash wins over token", cfg: config.AuthConfig{Type: config.AuthBearer, Token: "t", TokenHash: string(hash)},
			check: func(v TokenVerifier) bool { _, ok := v.(*HashVerifier); return ok }},
		{name: "bearer without token", cfg: config.AuthConfig{Type: config.AuthBearer}, wantErr: true},
		{name: "jwt", cfg: config.AuthConfig{Type: config.AuthJWT, JWTSecret: string(testSecret)},
			check: func(v TokenVerifier) bool { _, ok := v.(*JWTVerifier); return ok }},
		{name: "jwt short secret", cfg: config.AuthConfig{Type: config.AuthJWT, JWTSecret: "x"}, wantErr: true},
		{name: "unknown", cfg: config.AuthConfig{Type: "mtls"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewVerifier() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVerifier() error = %v", err)
			}
			if tt.wantNil {
				if v != nil {
					t.Errorf("NewVerifier() = %T, want nil", v)
				}
				return
			}
			if !tt.check(v) {
				t.Errorf("NewVerifier() = %T", v)
			}
		})
	}
}
