// ABOUTME: Tests for frame encoding and type-directed decoding on both codecs.
// ABOUTME: Covers unknown-type rejection, malformed input, and cross-codec field parity.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RequestShape(t *testing.T) {
	req := NewRequest(TypeRequestContext, "agent-1", map[string]any{
		"file": "main.go",
		"line": 42,
	})
	req.TimeoutMillis = 5000

	data, err := Encode(JSON, req)
	require.NoError(t, err)

	frame, err := Decode(JSON, data)
	require.NoError(t, err)

	decoded, ok := frame.(*Request)
	require.True(t, ok, "request type should decode into *Request")
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, TypeRequestContext, decoded.Type)
	assert.Equal(t, "agent-1", decoded.Source)
	assert.True(t, decoded.ExpectResponse)
	assert.Equal(t, int64(5000), decoded.TimeoutMillis)
	assert.Equal(t, "main.go", decoded.Payload["file"])
}

func TestDecode_ResponseShape(t *testing.T) {
	req := NewRequest(TypeRequestAnalyze, "agent-2", nil)
	resp := NewErrorResponse(req, "host", NewErrorDetail(CodeHandlerTimeout, "no result in time"))

	data, err := Encode(JSON, resp)
	require.NoError(t, err)

	frame, err := Decode(JSON, data)
	require.NoError(t, err)

	decoded, ok := frame.(*Response)
	require.True(t, ok)
	assert.Equal(t, TypeAnalyzeResponse, decoded.Type)
	assert.Equal(t, req.ID, decoded.RequestID)
	assert.False(t, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, CodeHandlerTimeout, decoded.Error.Code)
}

func TestDecode_NotificationShape(t *testing.T) {
	n := NewNotification(TypeContextChanged, "host", map[string]any{"path": "pkg/a.go"})

	data, err := Encode(JSON, n)
	require.NoError(t, err)

	frame, err := Decode(JSON, data)
	require.NoError(t, err)

	decoded, ok := frame.(*Notification)
	require.True(t, ok)
	assert.Equal(t, TypeContextChanged, decoded.Type)
	assert.Equal(t, "pkg/a.go", decoded.Payload["path"])
}

func TestDecode_UnknownType(t *testing.T) {
	data := []byte(`{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","type":"request_compile","timestamp":"2026-01-02T15:04:05Z","source":"agent-1"}`)

	_, err := Decode(JSON, data)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(JSON, []byte(`{"id":`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Decode(CBOR, []byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCBOR_RoundTrip(t *testing.T) {
	req := NewRequest(TypeRequestRefactor, "agent-3", map[string]any{
		"symbol": "OldName",
		"to":     "NewName",
	})

	data, err := Encode(CBOR, req)
	require.NoError(t, err)

	frame, err := Decode(CBOR, data)
	require.NoError(t, err)

	decoded, ok := frame.(*Request)
	require.True(t, ok)
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Source, decoded.Source)
	assert.Equal(t, "OldName", decoded.Payload["symbol"])
	// Deterministic encoding: identical message, identical bytes.
	again, err := Encode(CBOR, req)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.True(t, c.Binary())

	_, err = CodecByName("msgpack")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
