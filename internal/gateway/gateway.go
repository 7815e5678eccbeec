package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/quangdm/shopchat/internal/assistant"
	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/metrics"
	"github.com/quangdm/shopchat/internal/store"
)

// Assistant is the orchestration surface the gateway drives.
type Assistant interface {
	InitProfile(ctx context.Context, sessionID, token string, clientCtx map[string]any) (*assistant.ProfileResult, error)
	Respond(ctx context.Context, sessionID, query string, clientCtx map[string]any) string
}

// Handler upgrades HTTP requests to WebSocket chat sessions and runs the
// per-connection read loop.
type Handler struct {
	svc           Assistant
	store         store.SessionStore
	registry      *Registry
	allowedOrigin string
	historyLimit  int
}

// NewHandler creates the WebSocket chat handler.
func NewHandler(svc Assistant, st store.SessionStore, registry *Registry, allowedOrigin string, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Handler{
		svc:           svc,
		store:         st,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		historyLimit:  historyLimit,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := h.resolveSession(ctx, r)
	slog.Info("WebSocket connection established", "session_id", sessionID, "ip", r.RemoteAddr)

	h.registry.Register(sessionID, ws)
	defer h.registry.Unregister(sessionID, ws)

	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	if err := h.writeEvent(ws, welcomeEvent{eventBase: newBase("welcome"), SessionID: sessionID}); err != nil {
		slog.Warn("Failed to send welcome event", "session_id", sessionID, "error", err)
		return
	}

	h.readLoop(ctx, ws, sessionID)
	slog.Info("Chat session ended", "session_id", sessionID)
}

// resolveSession honors an explicit resume token when it names a known
// session; anything else gets a fresh id.
func (h *Handler) resolveSession(ctx context.Context, r *http.Request) string {
	if resume := r.URL.Query().Get("session"); resume != "" {
		ok, err := h.store.HasSession(ctx, resume)
		if err != nil {
			slog.Warn("Session resume lookup failed", "session_id", resume, "error", err)
		} else if ok {
			slog.Info("Resuming session", "session_id", resume)
			return resume
		} else {
			slog.Info("Unknown resume token, starting fresh session", "session_id", resume)
		}
	}
	return uuid.NewString()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop processes inbound frames strictly sequentially: a frame's
// handler finishes before the next frame is read.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(ws, sessionID, "Invalid message format")
			continue
		}

		metrics.Frames.WithLabelValues(frame.Type).Inc()
		h.dispatch(ctx, ws, sessionID, frame)
	}
}

// dispatch routes one frame to its handler. Handler panics are contained
// here: the client gets an error event and the connection lives on.
func (h *Handler) dispatch(ctx context.Context, ws *websocket.Conn, sessionID string, frame inboundFrame) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Handler panic recovered", "session_id", sessionID, "frame_type", frame.Type, "panic", rec)
			h.sendError(ws, sessionID, "Internal error")
		}
	}()

	switch frame.Type {
	case "init_profile":
		h.handleInitProfile(ctx, ws, sessionID, frame)
	case "chat":
		h.handleChat(ctx, ws, sessionID, frame)
	case "get_conversation_history":
		h.handleHistory(ctx, ws, sessionID, frame)
	case "clear_conversation":
		h.handleClear(ctx, ws, sessionID)
	case "ping":
		if err := h.writeEvent(ws, pongEvent{eventBase: newBase("pong")}); err != nil {
			slog.Debug("Failed to send pong", "session_id", sessionID, "error", err)
		}
	default:
		h.sendError(ws, sessionID, "Unknown message type: "+frame.Type)
	}
}

func (h *Handler) handleInitProfile(ctx context.Context, ws *websocket.Conn, sessionID string, frame inboundFrame) {
	res, err := h.svc.InitProfile(ctx, sessionID, frame.Token, frame.Context)
	if err != nil {
		slog.Error("Profile initialization failed", "session_id", sessionID, "error", err)
		if werr := h.writeEvent(ws, profileErrorEvent{
			eventBase: newBase("profile_error"),
			Error:     "Failed to initialize profile",
		}); werr != nil {
			slog.Debug("Failed to send profile_error", "session_id", sessionID, "error", werr)
		}
		return
	}

	if err := h.writeEvent(ws, profileInitializedEvent{
		eventBase: newBase("profile_initialized"),
		Profile:   res.Profile,
		Welcome:   res.Welcome,
		Cart:      res.Cart,
	}); err != nil {
		slog.Debug("Failed to send profile_initialized", "session_id", sessionID, "error", err)
	}
}

// handleChat brackets the orchestrator call with typing indicators. The
// trailing typing:false is deferred so it goes out even when the reply
// path fails, but always after the message event.
func (h *Handler) handleChat(ctx context.Context, ws *websocket.Conn, sessionID string, frame inboundFrame) {
	if err := h.writeEvent(ws, typingEvent{eventBase: newBase("typing"), IsTyping: true}); err != nil {
		slog.Debug("Failed to send typing indicator", "session_id", sessionID, "error", err)
	}
	defer func() {
		if err := h.writeEvent(ws, typingEvent{eventBase: newBase("typing"), IsTyping: false}); err != nil {
			slog.Debug("Failed to send typing indicator", "session_id", sessionID, "error", err)
		}
	}()

	reply := h.svc.Respond(ctx, sessionID, frame.Message, frame.Context)

	if err := h.writeEvent(ws, messageEvent{
		eventBase:  newBase("message"),
		Message:    reply,
		IsMarkdown: true,
	}); err != nil {
		slog.Debug("Failed to send message event", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) handleHistory(ctx context.Context, ws *websocket.Conn, sessionID string, frame inboundFrame) {
	limit := frame.Limit
	if limit <= 0 {
		limit = h.historyLimit
	}

	messages, err := h.store.ConversationHistory(ctx, sessionID, limit)
	if err != nil {
		slog.Warn("Failed to load history", "session_id", sessionID, "error", err)
		h.sendError(ws, sessionID, "Failed to load conversation history")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	if err := h.writeEvent(ws, historyEvent{eventBase: newBase("conversation_history"), Messages: messages}); err != nil {
		slog.Debug("Failed to send history", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) handleClear(ctx context.Context, ws *websocket.Conn, sessionID string) {
	if err := h.store.ClearConversation(ctx, sessionID); err != nil {
		slog.Warn("Failed to clear conversation", "session_id", sessionID, "error", err)
		h.sendError(ws, sessionID, "Failed to clear conversation")
		return
	}

	if err := h.writeEvent(ws, clearedEvent{eventBase: newBase("conversation_cleared")}); err != nil {
		slog.Debug("Failed to send conversation_cleared", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) sendError(ws *websocket.Conn, sessionID, msg string) {
	if err := h.writeEvent(ws, errorEvent{eventBase: newBase("error"), Error: msg}); err != nil {
		slog.Debug("Failed to send error event", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) writeEvent(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
