// ABOUTME: WebSocket accept endpoint: upgrade, wrap, and register as a session
// ABOUTME: Origin checks honor allowed_origins; absent Origin means non-browser

package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/session"
	"github.com/parley-protocol/parley/internal/transport"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// handleWS upgrades GET /ws into a socket session.
func (g *Gateway) handleWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.Header.Get(transport.HeaderSource)
		if source == "" {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "missing "+transport.HeaderSource+" header")
			return
		}

		codec, err := protocol.CodecByName(r.Header.Get(transport.HeaderCodec))
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, err.Error())
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			g.logger.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
			return
		}

		sock := transport.NewAcceptedSocket(conn, transport.Options{
			Codec:          codec,
			ReceiveTimeout: g.config.Timeouts.Receive,
			MaxMessageSize: g.config.Limits.MaxMessageSize,
			PingInterval:   g.config.Timeouts.HeartbeatInterval,
		}, g.logger)

		sess, err := g.sessions.Accept(r.Context(), sock, session.Info{
			Source:     source,
			Name:       "websocket",
			RemoteAddr: r.RemoteAddr,
		})
		if err != nil {
			reason := protocol.CodeTransportFailure
			if errors.Is(err, session.ErrCapacityExceeded) {
				reason = protocol.CodeCapacityExceeded
			}
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
			return
		}

		// A credential presented at upgrade authenticates the session
		// immediately; a bad one ends it just as fast.
		if token := bearerToken(r); token != "" {
			if err := g.sessions.Authenticate(r.Context(), sess.ID, token); err != nil {
				g.sessions.Disconnect(sess.ID, "authentication failed")
				return
			}
		}

		g.logger.Debug("websocket session accepted", "session_id", sess.ID, "source", source)
	}
}
