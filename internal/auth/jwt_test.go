// ABOUTME: Unit tests for JWT credential verification and generation.
// ABOUTME: Covers valid, invalid, expired, and claim-less tokens.

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTAuthenticator_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	a := NewJWTAuthenticator(secret)

	token, err := a.Generate("agent-7", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	subject, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if subject != "agent-7" {
		t.Errorf("Authenticate() = %q, want %q", subject, "agent-7")
	}
}

func TestJWTAuthenticator_InvalidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	a := NewJWTAuthenticator(secret)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other := NewJWTAuthenticator([]byte("different-secret"))
				token, _ := other.Generate("agent-7", time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Authenticate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTAuthenticator_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	a := NewJWTAuthenticator(secret)

	token, err := a.Generate("agent-7", -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = a.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Authenticate() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTAuthenticator_MissingSubjectClaim(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	a := NewJWTAuthenticator(secret)

	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = a.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Authenticate() error = %v, want ErrMissingClaim", err)
	}
}
