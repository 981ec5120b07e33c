// ABOUTME: Wire codecs (JSON default, deterministic CBOR for binary sockets).
// ABOUTME: Decode sniffs the envelope type tag and returns the concrete frame shape.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownCodec       = errors.New("unknown codec")
)

// Codec encodes and decodes frames for a transport. Implementations must be
// safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name is the codec identifier used in configs and handshakes.
	Name() string
	// ContentType is the MIME type for HTTP transports.
	ContentType() string
	// Binary reports whether socket transports should use binary frames.
	Binary() bool
}

var (
	// JSON is the default wire format on every transport.
	JSON Codec = jsonCodec{}
	// CBOR is the deterministic binary format for socket transports.
	CBOR Codec = cborCodec{}
)

// CodecByName resolves a codec identifier from config or handshake.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(d []byte, v any) error { return json.Unmarshal(d, v) }
func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) ContentType() string             { return "application/json" }
func (jsonCodec) Binary() bool                    { return false }

// encMode is the CBOR encoder configured with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical message always produces identical
// bytes, which the dedupe fingerprint relies on.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields for forward
// compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Envelope timestamps must survive a round trip at full precision; the
	// deterministic default truncates time to whole seconds.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payloads decode into map[string]any targets. The CBOR default for
		// any-typed targets is map[interface{}]interface{}, which the rest
		// of the runtime (and encoding/json) cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)   { return encMode.Marshal(v) }
func (cborCodec) Unmarshal(d []byte, v any) error { return decMode.Unmarshal(d, v) }
func (cborCodec) Name() string                    { return "cbor" }
func (cborCodec) ContentType() string             { return "application/cbor" }
func (cborCodec) Binary() bool                    { return true }

// Encode serializes a frame with the given codec.
func Encode(c Codec, f Frame) ([]byte, error) {
	return c.Marshal(f)
}

// Decode deserializes a frame: it reads the envelope first, rejects unknown
// type tags, then decodes into the concrete shape for the type's class.
func Decode(c Codec, data []byte) (Frame, error) {
	var env Message
	if err := c.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	switch {
	case env.Type.IsRequest():
		var req Request
		if err := c.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &req, nil
	case env.Type.IsResponse():
		var resp Response
		if err := c.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &resp, nil
	default:
		var n Notification
		if err := c.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &n, nil
	}
}
