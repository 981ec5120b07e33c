// ABOUTME: Polling transport: HTTP handshake, fixed-interval poll, POST sends.
// ABOUTME: Two consecutive session-not-found replies end the session for good.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
)

// Polling REST paths, shared with the host's HTTP surface.
const (
	PathHandshake = "/api/v1/handshake"
	PathPoll      = "/api/v1/poll/"
	PathSend      = "/api/v1/send/"
	PathSession   = "/api/v1/session/"
)

// HandshakeRequest opens a polling session.
type HandshakeRequest struct {
	Source string `json:"source"`
	Codec  string `json:"codec,omitempty"`
}

// HandshakeReply carries the assigned session ID.
type HandshakeReply struct {
	SessionID    string `json:"sessionId"`
	PollInterval int64  `json:"pollInterval,omitempty"` // milliseconds, advisory
}

// PollReply batches frames accumulated since the previous poll.
type PollReply struct {
	Messages []json.RawMessage `json:"messages"`
}

// sessionGoneLimit is how many consecutive not-found polls it takes before
// the transport declares the session dead. Transient transport errors do not
// count and do not reset the streak.
const sessionGoneLimit = 2

// Polling is the HTTP transport for environments that cannot hold a socket
// open. It never backs off and never reconnects: a dead session stays dead.
type Polling struct {
	base   string
	opts   Options
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	sessionID string
	connected bool
	closed    bool
	notFound  int
	stopPoll  context.CancelFunc

	recvCh chan protocol.Frame
	events chan Event
	done   chan struct{}
}

var _ Transport = (*Polling)(nil)

// NewPolling returns a polling transport for the host at base
// (http://host:port). Nothing happens until Connect.
func NewPolling(base string, opts Options, logger *slog.Logger) *Polling {
	opts = opts.withDefaults()
	// Poll replies embed frames in a JSON body, so the binary codec cannot
	// apply here. Codec choice is a socket transport concern.
	opts.Codec = protocol.JSON
	return &Polling{
		base:   strings.TrimRight(base, "/"),
		opts:   opts,
		logger: logger.With("component", "transport.polling"),
		client: &http.Client{Timeout: opts.DialTimeout},
		recvCh: make(chan protocol.Frame, opts.QueueSize),
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}
}

func (p *Polling) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	body, err := json.Marshal(HandshakeRequest{Source: p.opts.Source, Codec: p.opts.Codec.Name()})
	if err != nil {
		return fmt.Errorf("handshake encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+PathHandshake, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("handshake: %s", httpError(resp))
	}

	var reply HandshakeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("handshake decode: %w", err)
	}
	if reply.SessionID == "" {
		return fmt.Errorf("handshake: empty session id")
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return ErrClosed
	}
	p.sessionID = reply.SessionID
	p.connected = true
	p.notFound = 0
	p.stopPoll = cancel
	p.mu.Unlock()

	go p.pollLoop(pollCtx, reply.SessionID)

	emit(p.events, Event{Kind: Connected})
	p.logger.Info("session opened", "session_id", reply.SessionID)
	return nil
}

// pollLoop asks the host for pending frames on a fixed cadence. There is no
// backoff here; the cadence is part of the contract.
func (p *Polling) pollLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if terminal := p.pollOnce(ctx, sessionID); terminal {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce fetches one batch. It returns true when the session is gone and
// polling must stop.
func (p *Polling) pollOnce(ctx context.Context, sessionID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+PathPoll+sessionID, nil)
	if err != nil {
		return false
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.logger.Warn("poll failed", "error", err)
		emit(p.events, Event{Kind: Failed, Err: err})
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		p.mu.Lock()
		p.notFound = 0
		p.mu.Unlock()
	case http.StatusNotFound:
		p.mu.Lock()
		p.notFound++
		gone := p.notFound >= sessionGoneLimit
		p.mu.Unlock()
		io.Copy(io.Discard, resp.Body)
		if gone {
			p.terminate(fmt.Errorf("session %s no longer known to host", sessionID))
			return true
		}
		return false
	default:
		err := fmt.Errorf("poll: %s", httpError(resp))
		p.logger.Warn("poll failed", "error", err)
		emit(p.events, Event{Kind: Failed, Err: err})
		return false
	}

	var reply PollReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		p.logger.Warn("poll decode failed", "error", err)
		emit(p.events, Event{Kind: Failed, Err: err})
		return false
	}
	for _, raw := range reply.Messages {
		frame, err := protocol.Decode(p.opts.Codec, raw)
		if err != nil {
			p.logger.Warn("dropping undecodable frame", "error", err)
			emit(p.events, Event{Kind: Failed, Err: err})
			continue
		}
		select {
		case p.recvCh <- frame:
		case <-ctx.Done():
			return true
		}
	}
	return false
}

// terminate is the unrecoverable-disconnect path.
func (p *Polling) terminate(cause error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.connected = false
	if p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
	p.mu.Unlock()

	close(p.done)
	emit(p.events, Event{Kind: Disconnected, Err: cause})
	p.logger.Warn("session ended by host", "error", cause)
}

func (p *Polling) Send(ctx context.Context, f protocol.Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.connected {
		p.mu.Unlock()
		return ErrNotConnected
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	data, err := protocol.Encode(p.opts.Codec, f)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := protocol.CheckSize(len(data), p.opts.MaxMessageSize); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+PathSend+sessionID, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", p.opts.Codec.ContentType())
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send: %s", httpError(resp))
	}
	return nil
}

func (p *Polling) Receive(ctx context.Context) (protocol.Frame, error) {
	var timeout <-chan time.Time
	if p.opts.ReceiveTimeout > 0 {
		t := time.NewTimer(p.opts.ReceiveTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-p.recvCh:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrReceiveTimeout
	case <-p.done:
		select {
		case f := <-p.recvCh:
			return f, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *Polling) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Polling) Events() <-chan Event { return p.events }

func (p *Polling) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	sessionID := p.sessionID
	if p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
	p.mu.Unlock()

	// Tell the host the session is over; best effort.
	if sessionID != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.base+PathSession+sessionID, nil)
		if err == nil {
			p.authorize(req)
			if resp, err := p.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}

	close(p.done)
	emit(p.events, Event{Kind: Disconnected})
	p.logger.Info("session closed", "session_id", sessionID)
	return nil
}

func (p *Polling) authorize(req *http.Request) {
	if p.opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.AuthToken)
	}
}

// httpError summarizes a non-200 reply, including a short body excerpt when
// the host sent one.
func httpError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if len(body) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
}
