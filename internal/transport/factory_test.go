// ABOUTME: Tests for the transport URI factory and the in-process endpoint registry.
// ABOUTME: Each scheme maps to its transport kind; unknown schemes are rejected.

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-protocol/parley/internal/protocol"
)

func TestNew_SchemeDispatch(t *testing.T) {
	tr, err := New("ws://host:9000/ws", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Socket{}, tr)

	tr, err = New("wss://host/ws", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Socket{}, tr)

	tr, err = New("http://host:9001", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Polling{}, tr)

	tr, err = New("https://host", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Polling{}, tr)
}

func TestNew_UnsupportedScheme(t *testing.T) {
	_, err := New("ftp://host", Options{}, testLogger())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestNew_MemEndpoint(t *testing.T) {
	hostEnd := ListenInproc("factory-test", Options{}, testLogger())
	defer hostEnd.Disconnect(t.Context())

	clientEnd, err := New("mem://factory-test", Options{}, testLogger())
	require.NoError(t, err)

	// The two ends are actually linked.
	req := protocol.NewRequest(protocol.TypeRequestContext, "agent", nil)
	require.NoError(t, clientEnd.Send(t.Context(), req))
	got, err := hostEnd.Receive(t.Context())
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.Envelope().ID)

	// Claimed is claimed.
	_, err = New("mem://factory-test", Options{}, testLogger())
	assert.Error(t, err)
}
