// ABOUTME: HTTP surface: chi routes, admin API handlers, and JSON helpers
// ABOUTME: Session listings, capability catalog, routing history, and stats

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/router"
	"github.com/parley-protocol/parley/internal/session"
	"github.com/parley-protocol/parley/internal/store"
	"github.com/parley-protocol/parley/internal/transport"
)

// apiError is the JSON error body for every non-2xx API response.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body apiError
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// requireBearer gates admin endpoints behind the session authenticator.
func requireBearer(authenticator session.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, protocol.CodeUnauthenticated, "missing bearer credential")
				return
			}
			if _, err := authenticator.Authenticate(r.Context(), token); err != nil {
				writeError(w, http.StatusUnauthorized, protocol.CodeUnauthenticated, "credential rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// routes builds the HTTP surface: transports, health, metrics, admin API.
func (g *Gateway) routes(authenticator session.Authenticator, requireAuth bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Liveness and readiness, always open
	r.Get("/healthz", g.handleHealth)
	r.Get("/readyz", g.handleReady)

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	// Agent-facing endpoints authenticate in-protocol, not per request
	upgrader := makeUpgrader(g.config.Server.AllowedOrigins)
	r.Get("/ws", g.handleWS(&upgrader))
	r.Post(transport.PathHandshake, g.handleHandshake)
	r.Get(transport.PathPoll+"{session}", g.handlePoll)
	r.Post(transport.PathSend+"{session}", g.handleSend)
	r.Delete(transport.PathSession+"{session}", g.handleSessionDelete)

	// Admin API
	r.Group(func(r chi.Router) {
		if requireAuth {
			r.Use(requireBearer(authenticator))
		}
		r.Get("/api/v1/sessions", g.handleSessions)
		r.Get("/api/v1/capabilities", g.handleCapabilities)
		r.Get("/api/v1/history", g.handleHistory)
		r.Get("/api/v1/messages", g.handleMessages)
		r.Get("/api/v1/stats", g.handleStats)
		r.Get("/api/v1/handlers", g.handleHandlers)
		r.Post("/api/v1/handlers/{type}/enable", g.handleHandlerToggle(true))
		r.Post("/api/v1/handlers/{type}/disable", g.handleHandlerToggle(false))
	})

	return r
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the gateway can accept sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    true,
		"sessions": g.sessions.Count(),
	})
}

// storedSessionResponse is the JSON shape for one persisted session row.
type storedSessionResponse struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"sessionId"`
	Source           string     `json:"source"`
	Subject          string     `json:"subject,omitempty"`
	Transport        string     `json:"transport,omitempty"`
	RemoteAddr       string     `json:"remoteAddr,omitempty"`
	ConnectedAt      time.Time  `json:"connectedAt"`
	DisconnectedAt   *time.Time `json:"disconnectedAt,omitempty"`
	DisconnectReason string     `json:"disconnectReason,omitempty"`
}

// handleSessions returns live sessions, or stored history with ?all=true.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		records, err := g.store.ListSessions(r.Context(), store.SessionFilter{
			Limit: queryInt(r, "limit", 0),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, protocol.CodeInternalError, err.Error())
			return
		}
		out := make([]storedSessionResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, storedSessionResponse{
				ID:               rec.ID,
				SessionID:        rec.SessionID,
				Source:           rec.Source,
				Subject:          rec.Subject,
				Transport:        rec.Transport,
				RemoteAddr:       rec.RemoteAddr,
				ConnectedAt:      rec.ConnectedAt,
				DisconnectedAt:   rec.DisconnectedAt,
				DisconnectReason: rec.DisconnectReason,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
		return
	}

	snaps := g.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": snaps})
}

// handleCapabilities returns the host's capability catalog.
func (g *Gateway) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Catalog())
}

// handleHistory returns the in-memory routing history, oldest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := g.router.History().Snapshot()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// storedMessageResponse is the JSON shape for one audit trail row.
type storedMessageResponse struct {
	MessageID  string    `json:"messageId"`
	SessionID  string    `json:"sessionId"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Success    bool      `json:"success"`
	Handler    string    `json:"handler"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	DurationMS int64     `json:"durationMs"`
	At         time.Time `json:"at"`
}

// handleMessages returns the persisted message audit trail, newest first.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	filter := store.MessageFilter{Limit: queryInt(r, "limit", 0)}
	q := r.URL.Query()
	if v := q.Get("session"); v != "" {
		filter.SessionID = &v
	}
	if v := q.Get("type"); v != "" {
		filter.Type = &v
	}
	if v := q.Get("success"); v != "" {
		b := v == "true"
		filter.Success = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	records, err := g.store.ListMessages(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.CodeInternalError, err.Error())
		return
	}
	out := make([]storedMessageResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, storedMessageResponse{
			MessageID:  rec.MessageID,
			SessionID:  rec.SessionID,
			Type:       rec.Type,
			Source:     rec.Source,
			Success:    rec.Success,
			Handler:    rec.Handler,
			ErrorCode:  rec.ErrorCode,
			DurationMS: rec.Duration.Milliseconds(),
			At:         rec.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// statsResponse is the JSON body for GET /api/v1/stats.
type statsResponse struct {
	Server         string       `json:"server"`
	UptimeSeconds  int64        `json:"uptimeSeconds"`
	ActiveSessions int          `json:"activeSessions"`
	Routing        router.Stats `json:"routing"`
	Stored         struct {
		Sessions int64 `json:"sessions"`
		Messages int64 `json:"messages"`
	} `json:"stored"`
}

// handleStats aggregates runtime counters for operators.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Server:         g.config.Server.Name,
		UptimeSeconds:  int64(time.Since(g.startedAt).Seconds()),
		ActiveSessions: g.sessions.Count(),
		Routing:        g.router.Stats(),
	}
	sessions, messages, err := g.store.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.CodeInternalError, err.Error())
		return
	}
	resp.Stored.Sessions = sessions
	resp.Stored.Messages = messages
	writeJSON(w, http.StatusOK, resp)
}

// handleHandlers lists handler registrations, priority order.
func (g *Gateway) handleHandlers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"handlers": g.router.Handlers()})
}

// handleHandlerToggle enables or disables the handler for one message type.
func (g *Gateway) handleHandlerToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := protocol.MessageType(chi.URLParam(r, "type"))
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "unknown message type")
			return
		}
		var ok bool
		if enable {
			ok = g.router.Enable(t)
		} else {
			ok = g.router.Disable(t)
		}
		if !ok {
			writeError(w, http.StatusNotFound, protocol.CodeNoHandler, "no handler registered for that type")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"type": t, "enabled": enable})
	}
}

// queryInt parses an integer query parameter, returning fallback when absent
// or malformed.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
