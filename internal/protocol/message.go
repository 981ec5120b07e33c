// ABOUTME: Envelope and the three concrete message shapes with their constructors.
// ABOUTME: IDs are ULIDs so logs and history sort by creation time without a clock join.

package protocol

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh message ID.
func NewID() string {
	return ulid.Make().String()
}

// Message is the envelope carried by every frame.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Target    string      `json:"target,omitempty"`
}

// Envelope returns the message's envelope. Request, Response, and
// Notification inherit this through embedding, which is what lets them all
// satisfy Frame.
func (m *Message) Envelope() *Message { return m }

// Frame is any decodable wire message: *Request, *Response, or *Notification.
type Frame interface {
	Envelope() *Message
}

// Request asks the host to perform an operation. When ExpectResponse is set
// the host sends back a Response correlated by RequestID; otherwise the
// outcome is only observable through notifications.
type Request struct {
	Message
	Payload        map[string]any `json:"payload,omitempty"`
	ExpectResponse bool           `json:"expectResponse"`
	// TimeoutMillis overrides the host's message timeout for this request
	// when positive. Encoded in milliseconds on the wire.
	TimeoutMillis int64 `json:"timeout,omitempty"`
}

// TimeoutOverride returns the per-request timeout, zero when unset.
func (r *Request) TimeoutOverride() time.Duration {
	if r.TimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

// Response reports the outcome of a Request. Success and Error are mutually
// exclusive: a failed response carries an ErrorDetail and Success=false.
type Response struct {
	Message
	RequestID string         `json:"requestId"`
	Success   bool           `json:"success"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

// Notification is a one-way event. No response is ever generated for it.
type Notification struct {
	Message
	Payload map[string]any `json:"payload,omitempty"`
}

// NewRequest builds a request of the given kind originating from source.
func NewRequest(t MessageType, source string, payload map[string]any) *Request {
	return &Request{
		Message: Message{
			ID:        NewID(),
			Type:      t,
			Timestamp: time.Now().UTC(),
			Source:    source,
		},
		Payload:        payload,
		ExpectResponse: true,
	}
}

// NewResponse builds a successful response to req. The response type is
// derived from the request kind; req.Type must be a request kind.
func NewResponse(req *Request, source string, payload map[string]any) *Response {
	rt, _ := ResponseTypeFor(req.Type)
	return &Response{
		Message: Message{
			ID:        NewID(),
			Type:      rt,
			Timestamp: time.Now().UTC(),
			Source:    source,
			Target:    req.Source,
		},
		RequestID: req.ID,
		Success:   true,
		Payload:   payload,
	}
}

// NewErrorResponse builds a failed response to req carrying detail.
func NewErrorResponse(req *Request, source string, detail *ErrorDetail) *Response {
	rt, _ := ResponseTypeFor(req.Type)
	return &Response{
		Message: Message{
			ID:        NewID(),
			Type:      rt,
			Timestamp: time.Now().UTC(),
			Source:    source,
			Target:    req.Source,
		},
		RequestID: req.ID,
		Success:   false,
		Error:     detail,
	}
}

// NewNotification builds a one-way event of the given kind.
func NewNotification(t MessageType, source string, payload map[string]any) *Notification {
	return &Notification{
		Message: Message{
			ID:        NewID(),
			Type:      t,
			Timestamp: time.Now().UTC(),
			Source:    source,
		},
		Payload: payload,
	}
}
