package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/usba/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// StateFunc returns the current state payload and its version for a device.
type StateFunc func(ctx context.Context, userID string) (version uint64, payload any)

// WebSocketHandler upgrades /ws/session and streams state updates.
type WebSocketHandler struct {
	hub           *Hub
	state         StateFunc
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a handler. state supplies the initial message.
func NewWebSocketHandler(hub *Hub, state StateFunc, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		state:         state,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "closing"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.Register(userID, tabID)
	defer h.hub.Unregister(userID, tabID, c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.state != nil {
		_, payload := h.state(ctx, userID)
		if err := writeJSON(ctx, ws, envelope{Type: "state", Data: payload}); err != nil {
			slog.Debug("Failed to send initial state", "error", err, "user_id", userID)
			return
		}
	}

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, c, userID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop answers pings and returns when the client goes away.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, c *Client, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			data, _ := json.Marshal(envelope{Type: "pong"})
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
