// ABOUTME: Router validates inbound frames and dispatches them to per-type handlers.
// ABOUTME: Handlers race the message timeout; failures become protocol error responses.

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/metrics"
	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/session"
)

const defaultMessageTimeout = 30 * time.Second

// Handler processes one frame and returns the response payload. For frames
// that expect no response the returned payload is discarded. Returning a
// *protocol.ErrorDetail keeps its code on the wire; any other error is
// reported as HANDLER_ERROR.
type Handler func(ctx context.Context, sess *session.Session, f protocol.Frame) (map[string]any, error)

// Registration binds a handler to a message type.
type Registration struct {
	Type protocol.MessageType `json:"type"`
	// Name identifies the handler in history entries and listings.
	Name string `json:"name"`
	// Priority orders listings only; dispatch is always single-handler.
	Priority int `json:"priority"`
	// Enabled reflects the current toggle state. Register forces it on.
	Enabled bool    `json:"enabled"`
	Handler Handler `json:"-"`
}

// Result is the outcome of routing one frame. Message-level failures land
// here, never in a Go error: the caller has nothing to retry.
type Result struct {
	Success     bool
	HandlerUsed string
	// Response is what was delivered back, nil when none was expected.
	Response *protocol.Response
	// Err is set when Success is false.
	Err      *protocol.ErrorDetail
	Duration time.Duration
}

// Config tunes the router.
type Config struct {
	// Source is the identity stamped on responses the router originates.
	Source string
	// MessageTimeout bounds handler execution when the request carries no
	// override. Zero takes the default.
	MessageTimeout time.Duration
	// MaxMessageSize rejects frames whose JSON encoding exceeds it. Zero
	// disables the check.
	MaxMessageSize int
	// MaxHistory is the routing history ring capacity.
	MaxHistory int
	// OnRecord, when set, observes every routing record as it enters the
	// history. Called inline; implementations must not block.
	OnRecord func(HistoryEntry)
}

// Router owns the handler registry and the dispatch path. Safe for
// concurrent use; it serves as the session manager's frame sink.
type Router struct {
	cfg     Config
	logger  *slog.Logger
	history *History

	mu       sync.RWMutex
	handlers map[protocol.MessageType]*Registration

	statsMu sync.Mutex
	stats   Stats
}

var _ session.Sink = (*Router)(nil)

// Stats aggregates routing outcomes since start.
type Stats struct {
	Routed    int64            `json:"routed"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	ByType    map[string]int64 `json:"byType"`
	ByCode    map[string]int64 `json:"byCode"`
}

// New builds a router.
func New(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = "host"
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With("component", "router"),
		history:  NewHistory(cfg.MaxHistory),
		handlers: make(map[protocol.MessageType]*Registration),
		stats: Stats{
			ByType: make(map[string]int64),
			ByCode: make(map[string]int64),
		},
	}
}

// Register installs a handler for its message type, replacing any previous
// registration. Newly registered handlers start enabled.
func (r *Router) Register(reg Registration) error {
	if !reg.Type.Valid() {
		return fmt.Errorf("register handler %q: unknown message type %q", reg.Name, reg.Type)
	}
	if reg.Handler == nil {
		return fmt.Errorf("register handler %q for %s: nil handler", reg.Name, reg.Type)
	}
	if reg.Name == "" {
		reg.Name = string(reg.Type)
	}
	reg.Enabled = true

	r.mu.Lock()
	prev, replaced := r.handlers[reg.Type]
	r.handlers[reg.Type] = &reg
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("handler replaced",
			"type", reg.Type,
			"previous", prev.Name,
			"handler", reg.Name)
	} else {
		r.logger.Debug("handler registered", "type", reg.Type, "handler", reg.Name)
	}
	return nil
}

// Unregister removes the handler for a type. Returns false when none existed.
func (r *Router) Unregister(t protocol.MessageType) bool {
	r.mu.Lock()
	_, ok := r.handlers[t]
	delete(r.handlers, t)
	r.mu.Unlock()
	return ok
}

// Enable turns a registered handler back on.
func (r *Router) Enable(t protocol.MessageType) bool { return r.setEnabled(t, true) }

// Disable keeps the registration but stops dispatching to it; frames for
// the type fail with NO_HANDLER until re-enabled.
func (r *Router) Disable(t protocol.MessageType) bool { return r.setEnabled(t, false) }

func (r *Router) setEnabled(t protocol.MessageType, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.handlers[t]
	if !ok {
		return false
	}
	reg.Enabled = enabled
	return true
}

// Handlers lists registrations ordered by priority, highest first, then by
// type for stable output.
func (r *Router) Handlers() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.handlers))
	for _, reg := range r.handlers {
		out = append(out, *reg)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// History exposes the routing history ring.
func (r *Router) History() *History {
	return r.history
}

// Stats returns a copy of the aggregate counters.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	out := Stats{
		Routed:    r.stats.Routed,
		Succeeded: r.stats.Succeeded,
		Failed:    r.stats.Failed,
		ByType:    make(map[string]int64, len(r.stats.ByType)),
		ByCode:    make(map[string]int64, len(r.stats.ByCode)),
	}
	for k, v := range r.stats.ByType {
		out.ByType[k] = v
	}
	for k, v := range r.stats.ByCode {
		out.ByCode[k] = v
	}
	return out
}

// HandleFrame implements session.Sink.
func (r *Router) HandleFrame(ctx context.Context, sess *session.Session, f protocol.Frame) {
	r.Route(ctx, sess, f)
}

// Route validates f, dispatches it to its handler, and answers requests over
// the originating session. The Result records the outcome; routing never
// returns a Go error because message-level failures are answered in-band.
func (r *Router) Route(ctx context.Context, sess *session.Session, f protocol.Frame) Result {
	start := time.Now()
	env := f.Envelope()
	log := r.logger.With("message_id", env.ID, "type", env.Type, "session_id", sess.ID)

	if err := protocol.Validate(f); err != nil {
		log.Warn("frame failed validation", "error", err)
		return r.fail(ctx, sess, f, protocol.DetailFromError(err), "none", start, log)
	}

	if r.cfg.MaxMessageSize > 0 {
		if data, err := protocol.Encode(protocol.JSON, f); err == nil {
			if serr := protocol.CheckSize(len(data), r.cfg.MaxMessageSize); serr != nil {
				log.Warn("frame over size limit", "size", len(data))
				return r.fail(ctx, sess, f, protocol.DetailFromError(serr), "none", start, log)
			}
		}
	}

	reg := r.lookup(env.Type)
	if reg == nil {
		log.Warn("no handler for message type")
		detail := protocol.NewErrorDetail(protocol.CodeNoHandler,
			fmt.Sprintf("no handler registered for message type %q", env.Type))
		return r.fail(ctx, sess, f, detail, "none", start, log)
	}

	payload, err := r.invoke(ctx, reg, sess, f)
	if err != nil {
		detail := handlerDetail(err)
		log.Warn("handler failed",
			"handler", reg.Name,
			"code", detail.Code,
			"error", err)
		return r.fail(ctx, sess, f, detail, reg.Name, start, log)
	}

	res := Result{Success: true, HandlerUsed: reg.Name, Duration: time.Since(start)}
	if req, ok := f.(*protocol.Request); ok && req.ExpectResponse {
		resp := protocol.NewResponse(req, r.cfg.Source, payload)
		if serr := sess.Send(ctx, resp); serr != nil {
			log.Error("response delivery failed", "error", serr)
			res = Result{
				HandlerUsed: reg.Name,
				Err:         protocol.NewErrorDetail(protocol.CodeTransportFailure, "could not deliver response"),
				Duration:    time.Since(start),
			}
			r.record(sess, f, res)
			return res
		}
		res.Response = resp
	}

	r.record(sess, f, res)
	log.Debug("message routed", "handler", reg.Name, "duration", res.Duration)
	return res
}

func (r *Router) lookup(t protocol.MessageType) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[t]
	if !ok || !reg.Enabled {
		return nil
	}
	return reg
}

// invoke runs the handler in its own goroutine and races it against the
// effective timeout. A request's own timeout overrides the configured one.
// Late results from abandoned handlers are discarded.
func (r *Router) invoke(ctx context.Context, reg *Registration, sess *session.Session, f protocol.Frame) (map[string]any, error) {
	timeout := r.cfg.MessageTimeout
	if req, ok := f.(*protocol.Request); ok {
		if o := req.TimeoutOverride(); o > 0 {
			timeout = o
		}
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := reg.Handler(hctx, sess, f)
		done <- outcome{payload, err}
	}()

	select {
	case out := <-done:
		// A handler that surfaces its context deadline gets the same
		// verdict as one the router had to abandon.
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, timeoutDetail(reg.Name, timeout)
		}
		return out.payload, out.err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutDetail(reg.Name, timeout)
		}
		return nil, hctx.Err()
	}
}

func timeoutDetail(handler string, timeout time.Duration) *protocol.ErrorDetail {
	return protocol.NewErrorDetail(protocol.CodeHandlerTimeout,
		fmt.Sprintf("handler %q did not complete within %s", handler, timeout))
}

// fail answers a failed message when a response is expected and records the
// outcome.
func (r *Router) fail(ctx context.Context, sess *session.Session, f protocol.Frame, detail *protocol.ErrorDetail, handler string, start time.Time, log *slog.Logger) Result {
	res := Result{HandlerUsed: handler, Err: detail, Duration: time.Since(start)}

	if req, ok := f.(*protocol.Request); ok && req.ExpectResponse {
		resp := protocol.NewErrorResponse(req, r.cfg.Source, detail)
		if err := sess.Send(ctx, resp); err != nil {
			log.Warn("error response delivery failed", "error", err)
		} else {
			res.Response = resp
		}
	}

	r.record(sess, f, res)
	return res
}

// handlerDetail maps a handler error to its wire form. An *ErrorDetail keeps
// its code; anything else becomes HANDLER_ERROR.
func handlerDetail(err error) *protocol.ErrorDetail {
	var detail *protocol.ErrorDetail
	if errors.As(err, &detail) {
		return detail
	}
	return protocol.NewErrorDetail(protocol.CodeHandlerError, err.Error())
}

func (r *Router) record(sess *session.Session, f protocol.Frame, res Result) {
	env := f.Envelope()

	outcome := "success"
	code := ""
	if !res.Success {
		outcome = "failure"
		if res.Err != nil {
			code = res.Err.Code
		}
	}
	metrics.MessagesRouted.WithLabelValues(string(env.Type), outcome).Inc()
	if code != "" {
		metrics.RoutingErrors.WithLabelValues(code).Inc()
	}
	metrics.HandlerDuration.WithLabelValues(string(env.Type)).Observe(res.Duration.Seconds())

	entry := HistoryEntry{
		MessageID: env.ID,
		Type:      env.Type,
		Source:    env.Source,
		SessionID: sess.ID,
		Success:   res.Success,
		Handler:   res.HandlerUsed,
		ErrorCode: code,
		Duration:  res.Duration,
		At:        time.Now().UTC(),
	}
	r.history.Append(entry)
	if r.cfg.OnRecord != nil {
		r.cfg.OnRecord(entry)
	}

	r.statsMu.Lock()
	r.stats.Routed++
	if res.Success {
		r.stats.Succeeded++
	} else {
		r.stats.Failed++
		if code != "" {
			r.stats.ByCode[code]++
		}
	}
	r.stats.ByType[string(env.Type)]++
	r.statsMu.Unlock()
}
