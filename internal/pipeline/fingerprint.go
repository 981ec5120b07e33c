// ABOUTME: Request fingerprinting for dedupe: type + source + canonical payload.

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/parley-protocol/parley/internal/protocol"
)

// Fingerprint identifies a request by what it asks for rather than by its
// message ID. Two requests with the same type, source, and payload collide
// regardless of key order because the payload is hashed in its deterministic
// CBOR encoding.
func Fingerprint(req *protocol.Request) (string, error) {
	payload, err := protocol.CBOR.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(req.Type))
	h.Write([]byte{0})
	h.Write([]byte(req.Source))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
