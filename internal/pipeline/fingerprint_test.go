// ABOUTME: Fingerprint tests: identity by content, not by message ID.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-protocol/parley/internal/protocol"
)

func TestFingerprint_IgnoresMessageIdentity(t *testing.T) {
	payload := map[string]any{"path": "main.go", "line": 12}
	a := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", payload)
	b := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", payload)
	require.NotEqual(t, a.ID, b.ID, "requests must have distinct IDs")

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "same ask from the same source must collide")
}

func TestFingerprint_SeparatesByTypeSourceAndPayload(t *testing.T) {
	base := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"path": "a.go"})
	baseFP, err := Fingerprint(base)
	require.NoError(t, err)

	otherType := protocol.NewRequest(protocol.TypeRequestValidate, "agent-a", map[string]any{"path": "a.go"})
	otherSource := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-b", map[string]any{"path": "a.go"})
	otherPayload := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"path": "b.go"})

	for name, req := range map[string]*protocol.Request{
		"type":    otherType,
		"source":  otherSource,
		"payload": otherPayload,
	} {
		fp, err := Fingerprint(req)
		require.NoError(t, err)
		assert.NotEqual(t, baseFP, fp, "diverging %s must change the fingerprint", name)
	}
}

func TestFingerprint_NilAndEmptyPayloadsAreStable(t *testing.T) {
	a := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)
	b := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}
