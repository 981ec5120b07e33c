// Package protocol defines the wire contract spoken between the parley
// runtime and connected agents.
//
// # Overview
//
// Every frame on every transport is one of three shapes built on a common
// envelope: a Request that may expect a Response, a Response correlated to a
// Request by ID, or a fire-and-forget Notification. The set of message types
// is closed; unknown types are rejected at decode time rather than routed.
//
// # Envelope
//
// All messages carry the envelope fields:
//
//	type Message struct {
//	    ID        string      // ULID, unique per message
//	    Type      MessageType // one of the closed enum below
//	    Timestamp time.Time   // UTC creation time
//	    Source    string      // originating participant
//	    Target    string      // optional addressee
//	}
//
// # Message Types
//
// Requests:   request_context, request_refactor, request_analyze, request_validate
// Responses:  context_response, refactor_response, analyze_response, validate_response
// Events:     context_changed, error_occurred, operation_complete
// Capability: capability_request, capability_response
//
// ResponseTypeFor maps each request kind to the response kind a handler
// must produce; capability_request is answered with capability_response
// directly from the static catalog, never from a business handler.
//
// # Codecs
//
// Two codecs implement the Codec interface:
//
//   - JSONCodec: the default wire format on every transport
//   - CBORCodec: deterministic binary encoding for socket transports
//
// Both honor the same struct tags, so a message encoded by one codec and
// decoded by the other carries identical fields. Decode sniffs the envelope,
// checks the type tag, and returns the concrete Request, Response, or
// Notification.
//
// # Errors
//
// Protocol-visible failures are carried as ErrorDetail values with stable
// string codes (INVALID_MESSAGE, NO_HANDLER, HANDLER_TIMEOUT, ...). Internal
// Go errors never cross the wire directly; they are mapped to codes first.
package protocol
