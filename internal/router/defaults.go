// ABOUTME: Built-in handler set: business requests feed the pipeline,
// ABOUTME: capability requests answer from the catalog, the rest is acknowledged.

package router

import (
	"context"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/session"
)

// Dispatcher executes business requests and returns their result payload.
// The pipeline processor implements this.
type Dispatcher interface {
	Process(ctx context.Context, req *protocol.Request) (map[string]any, error)
}

// RegisterDefaults installs the standard handlers. Business request types go
// through the dispatcher; capability requests are answered synchronously
// from the static catalog; inbound responses and notifications are
// acknowledged onto the event bus for observers. bus may be nil.
func RegisterDefaults(r *Router, d Dispatcher, bus *session.Broadcaster) error {
	dispatch := func(ctx context.Context, sess *session.Session, f protocol.Frame) (map[string]any, error) {
		req, ok := f.(*protocol.Request)
		if !ok {
			return nil, protocol.NewErrorDetail(protocol.CodeInvalidMessage, "request frame expected")
		}
		return d.Process(ctx, req)
	}

	for _, t := range []protocol.MessageType{
		protocol.TypeRequestContext,
		protocol.TypeRequestRefactor,
		protocol.TypeRequestAnalyze,
		protocol.TypeRequestValidate,
	} {
		if err := r.Register(Registration{Type: t, Name: "pipeline", Priority: 10, Handler: dispatch}); err != nil {
			return err
		}
	}

	capabilities := func(ctx context.Context, sess *session.Session, f protocol.Frame) (map[string]any, error) {
		return protocol.Catalog().Payload(), nil
	}
	if err := r.Register(Registration{
		Type:     protocol.TypeCapabilityRequest,
		Name:     "capabilities",
		Priority: 20,
		Handler:  capabilities,
	}); err != nil {
		return err
	}

	acknowledge := func(ctx context.Context, sess *session.Session, f protocol.Frame) (map[string]any, error) {
		env := f.Envelope()
		if bus != nil {
			bus.Publish(session.Event{
				Kind:      session.EventMessage,
				SessionID: sess.ID,
				Source:    env.Source,
				Type:      env.Type,
				MessageID: env.ID,
			})
		}
		return nil, nil
	}
	for _, t := range []protocol.MessageType{
		protocol.TypeContextResponse,
		protocol.TypeRefactorResponse,
		protocol.TypeAnalyzeResponse,
		protocol.TypeValidateResponse,
		protocol.TypeCapabilityResponse,
		protocol.TypeContextChanged,
		protocol.TypeErrorOccurred,
		protocol.TypeOperationComplete,
	} {
		if err := r.Register(Registration{Type: t, Name: "acknowledge", Priority: 0, Handler: acknowledge}); err != nil {
			return err
		}
	}

	return nil
}
