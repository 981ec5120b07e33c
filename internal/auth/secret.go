// ABOUTME: Shared-secret authenticator backed by a bcrypt hash.
// ABOUTME: For deployments without a token issuer; one secret, one subject.

package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-protocol/parley/internal/session"
)

var ErrBadSecret = errors.New("secret mismatch")

// SecretAuthenticator accepts a single shared secret. The secret is kept
// only as a bcrypt hash; every session that presents it authenticates as
// the same subject.
type SecretAuthenticator struct {
	subject string
	hash    []byte
}

var _ session.Authenticator = (*SecretAuthenticator)(nil)

// NewSecretAuthenticator hashes secret and returns the authenticator.
// Sessions presenting the secret authenticate as subject.
func NewSecretAuthenticator(subject, secret string) (*SecretAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("shared secret must not be empty")
	}
	if subject == "" {
		subject = "agent"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash shared secret: %w", err)
	}
	return &SecretAuthenticator{subject: subject, hash: hash}, nil
}

// Authenticate compares credential against the stored hash.
func (a *SecretAuthenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(credential)); err != nil {
		return "", ErrBadSecret
	}
	return a.subject, nil
}
