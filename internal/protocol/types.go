// ABOUTME: MessageType enum covering every frame the runtime will route.
// ABOUTME: Provides classification helpers and the request-to-response type mapping.

package protocol

// MessageType identifies the kind of message inside the envelope. The set is
// closed: a frame carrying any other value fails validation before routing.
type MessageType string

const (
	// Requests from agents to the host.
	TypeRequestContext  MessageType = "request_context"
	TypeRequestRefactor MessageType = "request_refactor"
	TypeRequestAnalyze  MessageType = "request_analyze"
	TypeRequestValidate MessageType = "request_validate"

	// Responses paired one-to-one with the request kinds above.
	TypeContextResponse  MessageType = "context_response"
	TypeRefactorResponse MessageType = "refactor_response"
	TypeAnalyzeResponse  MessageType = "analyze_response"
	TypeValidateResponse MessageType = "validate_response"

	// One-way notifications, no response expected.
	TypeContextChanged    MessageType = "context_changed"
	TypeErrorOccurred     MessageType = "error_occurred"
	TypeOperationComplete MessageType = "operation_complete"

	// Capability negotiation.
	TypeCapabilityRequest  MessageType = "capability_request"
	TypeCapabilityResponse MessageType = "capability_response"
)

// responseFor maps each request kind to the response kind its handler must
// produce. capability_request is included so callers can treat capability
// negotiation uniformly with the business request kinds.
var responseFor = map[MessageType]MessageType{
	TypeRequestContext:    TypeContextResponse,
	TypeRequestRefactor:   TypeRefactorResponse,
	TypeRequestAnalyze:    TypeAnalyzeResponse,
	TypeRequestValidate:   TypeValidateResponse,
	TypeCapabilityRequest: TypeCapabilityResponse,
}

// AllTypes lists every valid message type in declaration order. The slice is
// reallocated on each call so callers cannot mutate the canonical set.
func AllTypes() []MessageType {
	return []MessageType{
		TypeRequestContext, TypeRequestRefactor, TypeRequestAnalyze, TypeRequestValidate,
		TypeContextResponse, TypeRefactorResponse, TypeAnalyzeResponse, TypeValidateResponse,
		TypeContextChanged, TypeErrorOccurred, TypeOperationComplete,
		TypeCapabilityRequest, TypeCapabilityResponse,
	}
}

// Valid reports whether t is a member of the closed message type set.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRequestContext, TypeRequestRefactor, TypeRequestAnalyze, TypeRequestValidate,
		TypeContextResponse, TypeRefactorResponse, TypeAnalyzeResponse, TypeValidateResponse,
		TypeContextChanged, TypeErrorOccurred, TypeOperationComplete,
		TypeCapabilityRequest, TypeCapabilityResponse:
		return true
	}
	return false
}

// IsRequest reports whether t expects a correlated response from the host.
func (t MessageType) IsRequest() bool {
	_, ok := responseFor[t]
	return ok
}

// IsResponse reports whether t is a response kind.
func (t MessageType) IsResponse() bool {
	switch t {
	case TypeContextResponse, TypeRefactorResponse, TypeAnalyzeResponse,
		TypeValidateResponse, TypeCapabilityResponse:
		return true
	}
	return false
}

// IsNotification reports whether t is a one-way event kind.
func (t MessageType) IsNotification() bool {
	switch t {
	case TypeContextChanged, TypeErrorOccurred, TypeOperationComplete:
		return true
	}
	return false
}

// ResponseTypeFor returns the response kind paired with the given request
// kind. The second return is false when t is not a request kind.
func ResponseTypeFor(t MessageType) (MessageType, bool) {
	rt, ok := responseFor[t]
	return rt, ok
}

func (t MessageType) String() string { return string(t) }
