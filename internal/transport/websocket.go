// ABOUTME: Socket transport over WebSocket with liveness pings, backoff reconnect,
// ABOUTME: and an offline send queue flushed in order once the link is back.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-protocol/parley/internal/protocol"
)

// Handshake headers the socket transport presents when dialing.
const (
	HeaderSource = "X-Parley-Source"
	HeaderCodec  = "X-Parley-Codec"
)

// Socket is the stream transport. The dialing side reconnects on drops with
// exponential backoff; the accepted (server) side treats any drop as
// terminal.
type Socket struct {
	url    string
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	attempt   int
	timer     *time.Timer
	queue     [][]byte

	// gorilla allows one writer at a time; control frames are exempt.
	writeMu sync.Mutex

	recvCh chan protocol.Frame
	events chan Event
	done   chan struct{}
}

var _ Transport = (*Socket)(nil)

// NewSocket returns a dialing socket transport for rawURL (ws:// or wss://).
// Nothing happens until Connect.
func NewSocket(rawURL string, opts Options, logger *slog.Logger) *Socket {
	opts = opts.withDefaults()
	return &Socket{
		url:    rawURL,
		opts:   opts,
		logger: logger.With("component", "transport.socket"),
		recvCh: make(chan protocol.Frame, opts.QueueSize),
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}
}

// NewAcceptedSocket wraps an already-upgraded server-side connection. It is
// born connected and never redials.
func NewAcceptedSocket(conn *websocket.Conn, opts Options, logger *slog.Logger) *Socket {
	opts = opts.withDefaults()
	opts.MaxReconnects = 0
	s := &Socket{
		opts:      opts,
		logger:    logger.With("component", "transport.socket"),
		conn:      conn,
		connected: true,
		recvCh:    make(chan protocol.Frame, opts.QueueSize),
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	conn.SetReadLimit(int64(opts.MaxMessageSize))
	s.startLoops(conn)
	return s
}

func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.url == "" {
		// Accepted sockets cannot redial; the peer owns the connection.
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	return s.dial(ctx)
}

func (s *Socket) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.DialTimeout}
	hdr := http.Header{}
	hdr.Set(HeaderCodec, s.opts.Codec.Name())
	if s.opts.Source != "" {
		hdr.Set(HeaderSource, s.opts.Source)
	}
	if s.opts.AuthToken != "" {
		hdr.Set("Authorization", "Bearer "+s.opts.AuthToken)
	}

	conn, resp, err := dialer.DialContext(ctx, s.url, hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.connected = true
	s.attempt = 0
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	conn.SetReadLimit(int64(s.opts.MaxMessageSize))
	s.startLoops(conn)
	s.flush(conn, pending)

	emit(s.events, Event{Kind: Connected})
	s.logger.Info("connected", "url", s.url)
	return nil
}

// flush writes frames queued while offline, oldest first. A failed write puts
// the rest back; the broken connection will requeue through the drop path.
func (s *Socket) flush(conn *websocket.Conn, pending [][]byte) {
	for i, data := range pending {
		if err := s.write(conn, data); err != nil {
			s.logger.Warn("offline queue flush interrupted", "sent", i, "queued", len(pending)-i, "error", err)
			s.mu.Lock()
			s.queue = append(append([][]byte{}, pending[i:]...), s.queue...)
			s.mu.Unlock()
			return
		}
	}
	if len(pending) > 0 {
		s.logger.Info("offline queue flushed", "count", len(pending))
	}
}

func (s *Socket) startLoops(conn *websocket.Conn) {
	// Liveness window: a peer that answers neither of two consecutive pings
	// is considered gone.
	window := 2 * s.opts.PingInterval
	conn.SetReadDeadline(time.Now().Add(window))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(window))
	})

	connDone := make(chan struct{})
	go s.readLoop(conn, connDone)
	go s.pingLoop(conn, connDone)
}

func (s *Socket) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer close(connDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(conn, err)
			return
		}
		frame, derr := protocol.Decode(s.opts.Codec, data)
		if derr != nil {
			s.logger.Warn("dropping undecodable frame", "error", derr)
			emit(s.events, Event{Kind: Failed, Err: derr})
			continue
		}
		select {
		case s.recvCh <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.DialTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Wake the read loop; drop handling happens there.
				conn.Close()
				return
			}
		case <-connDone:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Socket) handleDrop(conn *websocket.Conn, cause error) {
	conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.scheduleReconnectLocked(cause)
}

// scheduleReconnectLocked is called with mu held and releases it. Attempt n
// waits Backoff(base, n); past the cap the transport shuts down for good.
func (s *Socket) scheduleReconnectLocked(cause error) {
	s.attempt++
	if s.opts.MaxReconnects <= 0 || s.attempt > s.opts.MaxReconnects {
		attempts := s.attempt - 1
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		close(s.done)
		emit(s.events, Event{Kind: Disconnected, Err: cause})
		s.logger.Warn("connection lost for good", "attempts", attempts, "error", cause)
		return
	}

	attempt := s.attempt
	delay := Backoff(s.opts.ReconnectBase, attempt)
	s.timer = time.AfterFunc(delay, s.redial)
	s.mu.Unlock()

	emit(s.events, Event{Kind: Reconnecting, Attempt: attempt, Err: cause})
	s.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
}

func (s *Socket) redial() {
	s.mu.Lock()
	if s.closed || s.connected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	defer cancel()
	if err := s.dial(ctx); err != nil {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.scheduleReconnectLocked(err)
	}
}

func (s *Socket) Send(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(s.opts.Codec, f)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := protocol.CheckSize(len(data), s.opts.MaxMessageSize); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.connected {
		// Mid-recovery sends are held and flushed after reconnect.
		if s.attempt > 0 {
			if len(s.queue) >= s.opts.QueueSize {
				s.mu.Unlock()
				return ErrQueueFull
			}
			s.queue = append(s.queue, data)
			s.mu.Unlock()
			return ErrQueued
		}
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	return s.write(conn, data)
}

func (s *Socket) write(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	kind := websocket.TextMessage
	if s.opts.Codec.Binary() {
		kind = websocket.BinaryMessage
	}
	conn.SetWriteDeadline(time.Now().Add(s.opts.DialTimeout))
	if err := conn.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *Socket) Receive(ctx context.Context) (protocol.Frame, error) {
	var timeout <-chan time.Time
	if s.opts.ReceiveTimeout > 0 {
		t := time.NewTimer(s.opts.ReceiveTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-s.recvCh:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrReceiveTimeout
	case <-s.done:
		// Frames decoded before teardown still get delivered.
		select {
		case f := <-s.recvCh:
			return f, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Socket) Events() <-chan Event { return s.events }

func (s *Socket) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.queue = nil
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
	}
	close(s.done)
	emit(s.events, Event{Kind: Disconnected})
	s.logger.Info("disconnected")
	return nil
}
