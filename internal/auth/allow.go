// ABOUTME: Pass-through authenticator for development and tests.

package auth

import (
	"context"

	"github.com/parley-protocol/parley/internal/session"
)

// Allow authenticates every credential. The credential itself becomes the
// subject so logs stay traceable; empty credentials get "anonymous".
type Allow struct{}

var _ session.Authenticator = Allow{}

func (Allow) Authenticate(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "anonymous", nil
	}
	return credential, nil
}
