// ABOUTME: Shape and size validation applied to every frame before routing.
// ABOUTME: Failures come back as ErrorDetail values with stable wire codes.

package protocol

import "fmt"

// Validate checks the structural invariants every frame must satisfy before
// it is routed. Failures are *ErrorDetail values with code INVALID_MESSAGE.
func Validate(f Frame) error {
	env := f.Envelope()
	if env.ID == "" {
		return invalid("missing message id")
	}
	if !env.Type.Valid() {
		return invalid(fmt.Sprintf("unknown message type %q", env.Type))
	}
	if env.Source == "" {
		return invalid("missing source")
	}
	if env.Timestamp.IsZero() {
		return invalid("missing timestamp")
	}

	switch m := f.(type) {
	case *Request:
		if !m.Type.IsRequest() {
			return invalid(fmt.Sprintf("type %q is not a request kind", m.Type))
		}
	case *Response:
		if !m.Type.IsResponse() {
			return invalid(fmt.Sprintf("type %q is not a response kind", m.Type))
		}
		if m.RequestID == "" {
			return invalid("response missing requestId")
		}
	case *Notification:
		if !m.Type.IsNotification() {
			return invalid(fmt.Sprintf("type %q is not a notification kind", m.Type))
		}
	default:
		return invalid("unrecognized frame shape")
	}
	return nil
}

// CheckSize enforces the encoded-size ceiling. size is the encoded frame
// length in bytes; max <= 0 disables the check.
func CheckSize(size, max int) error {
	if max > 0 && size > max {
		return &ErrorDetail{
			Code:    CodeMessageTooLarge,
			Message: fmt.Sprintf("message of %d bytes exceeds limit", size),
			Details: map[string]any{"size": size, "limit": max},
		}
	}
	return nil
}

func invalid(msg string) error {
	return &ErrorDetail{Code: CodeInvalidMessage, Message: msg}
}
