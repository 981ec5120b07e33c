// ABOUTME: Stable wire error codes and the ErrorDetail shape responses carry.
// ABOUTME: Maps internal Go errors to codes so raw error text never leaks to peers.

package protocol

import "errors"

// Wire error codes. These are part of the protocol contract: agents switch on
// them, so renaming one is a breaking change.
const (
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeMessageTooLarge   = "MESSAGE_TOO_LARGE"
	CodeNoHandler         = "NO_HANDLER"
	CodeHandlerTimeout    = "HANDLER_TIMEOUT"
	CodeHandlerError      = "HANDLER_ERROR"
	CodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeTransportFailure  = "TRANSPORT_FAILURE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// ErrorDetail is the wire form of a failure. Details is optional structured
// context (offending field, limit values) safe to show to the peer.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements error so an ErrorDetail can travel through ordinary error
// returns and be recovered with errors.As.
func (e *ErrorDetail) Error() string {
	return e.Code + ": " + e.Message
}

// NewErrorDetail builds an ErrorDetail with the given code and message.
func NewErrorDetail(code, message string) *ErrorDetail {
	return &ErrorDetail{Code: code, Message: message}
}

// DetailFromError recovers an ErrorDetail from err, or wraps err as an
// INTERNAL_ERROR when it carries no wire code. The wrapped form keeps the
// error text; callers that must not leak internals should map their errors
// to ErrorDetail values before returning them.
func DetailFromError(err error) *ErrorDetail {
	var d *ErrorDetail
	if errors.As(err, &d) {
		return d
	}
	return &ErrorDetail{Code: CodeInternalError, Message: err.Error()}
}
