// Package server exposes interpreter sessions over WebSockets.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/looplang/pkg/auth"
	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/store"
)

// WebSocket settings come from the [Network] section.

func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 60*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 256)
}

func getInputTimeout() time.Duration {
	return configuration.GetDuration("Network", "input_timeout", 5*time.Minute)
}

// Handler serves the session API and the WebSocket endpoint.
type Handler struct {
	upgrader websocket.Upgrader
	clients  *ClientManager
	// store is optional; without it runs are not recorded and saved
	// scripts cannot be run by name.
	store      *store.Store
	recordRuns bool
}

// NewHandler reads [Server] and [Store] settings. st may be nil.
func NewHandler(st *store.Store) *Handler {
	allowed := configuration.GetList("Server", "allowed_origins")
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  configuration.GetInt("Server", "read_buffer_size", 1024),
			WriteBufferSize: configuration.GetInt("Server", "write_buffer_size", 1024),
			CheckOrigin: func(r *http.Request) bool {
				if checkOrigin(r, allowed) {
					return true
				}
				logger.SecurityWarn("WebSocket origin %q rejected for %s", r.Header.Get("Origin"), r.RemoteAddr)
				return false
			},
		},
		clients:    NewClientManager(configuration.GetInt("Server", "max_sessions", 64)),
		store:      st,
		recordRuns: st != nil && configuration.GetBool("Store", "record_runs", true),
	}
}

// checkOrigin accepts listed origins, or the request's own host when the
// list is empty. Requests without an Origin header are not from a browser.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Routes registers all endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/session", auth.HandleCreateSession)
	mux.HandleFunc("/api/session/validate", auth.HandleTokenValidation)
	mux.HandleFunc("/api/session/logout", auth.HandleLogout)
	mux.HandleFunc("/api/scripts", auth.RequireSessionToken(h.handleScripts))
	mux.HandleFunc("/ws", auth.RequireSessionToken(h.HandleWebSocket))
	mux.HandleFunc("/health", h.handleHealth)
}

// Shutdown disconnects all clients, cancelling their running programs.
func (h *Handler) Shutdown() {
	h.clients.CloseAll()
}

// HandleWebSocket attaches the connection to the session named in the token.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := auth.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ipAddress := clientIP(r)
	if err := h.clients.CheckRateLimit(ipAddress); err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.ServerWarn("WebSocket upgrade failed for %s: %v", ipAddress, err)
		return
	}

	client := newClient(h, conn, sessionID, ipAddress)
	if err := h.clients.AddClient(sessionID, client); err != nil {
		logger.ServerWarn("Rejecting connection from %s: %v", ipAddress, err)
		conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}
	logger.ServerInfo("Session %s connected from %s", sessionID, ipAddress)

	go client.writePump()
	client.sendSession()
	client.readPump()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": h.clients.GetClientCount(),
	})
}

type scriptInfo struct {
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) handleScripts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.store == nil {
		w.Write([]byte("[]\n"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	scripts, err := h.store.ListScripts(ctx)
	if err != nil {
		logger.ServerError("Listing scripts failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	infos := make([]scriptInfo, 0, len(scripts))
	for _, s := range scripts {
		infos = append(infos, scriptInfo{Name: s.Name, Hash: s.Hash, UpdatedAt: s.UpdatedAt})
	}
	json.NewEncoder(w).Encode(infos)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return r.RemoteAddr
}
