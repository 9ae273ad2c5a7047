// Package live serves the bidirectional live channel over WebSocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/coordinator"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options tunes the live channel.
type Options struct {
	// AllowedOrigins limits browser origins. Empty or containing "*" allows any.
	AllowedOrigins []string
	// MaxMessageSize bounds a single client frame in bytes.
	MaxMessageSize int64
}

// Handler accepts live connections and dispatches their events.
type Handler struct {
	store    registrystore.ChatStore
	coord    *coordinator.Coordinator
	rooms    *rooms.Registry
	resolver *security.TokenResolver
	upgrader websocket.Upgrader
	maxSize  int64

	mu      sync.Mutex
	conns   map[string]*conn
	closing bool
	wg      sync.WaitGroup
}

// NewHandler builds a Handler.
func NewHandler(store registrystore.ChatStore, coord *coordinator.Coordinator, registry *rooms.Registry, resolver *security.TokenResolver, opts Options) *Handler {
	h := &Handler{
		store:    store,
		coord:    coord,
		rooms:    registry,
		resolver: resolver,
		maxSize:  opts.MaxMessageSize,
		conns:    make(map[string]*conn),
	}
	if h.maxSize <= 0 {
		h.maxSize = 1 << 20
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// MountRoutes mounts GET /v1/live.
func MountRoutes(r *gin.Engine, h *Handler) {
	r.GET("/v1/live", h.serve)
}

// Close disconnects every live connection and waits for in-flight handlers.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) serve(c *gin.Context) {
	token := c.Query("token")
	if bearer, ok := security.BearerToken(c.GetHeader("Authorization")); ok {
		token = bearer
	}
	identity, err := h.resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, apierror.ErrUnauthenticated) {
			log.Info("Live connection rejected", "clientIP", c.ClientIP(), "err", err)
		}
		apierror.Respond(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.Info("Live upgrade failed", "clientIP", c.ClientIP(), "err", err)
		return
	}

	conn := newConn(ws, identity)
	if !h.track(conn) {
		conn.close()
		return
	}
	defer h.untrack(conn)

	if security.LiveConnections != nil {
		security.LiveConnections.Inc()
		defer security.LiveConnections.Dec()
	}
	log.Info("Live connection opened", "connectionId", conn.id, "userId", identity.UserID)

	go conn.writePump()
	conn.emit(EventConnected, "", ConnectedPayload{
		ConnectionID: conn.id,
		User:         ConnectedUser{ID: identity.UserID, Username: identity.Username, Email: identity.Email},
	})

	h.readLoop(conn)

	conn.close()
	h.rooms.Disconnect(context.Background(), conn)
	log.Info("Live connection closed", "connectionId", conn.id, "userId", identity.UserID)
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) readLoop(c *conn) {
	c.ws.SetReadLimit(h.maxSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("Live read failed", "connectionId", c.id, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			h.fail(c, Frame{}, nil, apierror.Validation("frame", "frames must be JSON objects with an event name"))
			continue
		}
		if f.Event == EventSendMessage {
			// Sends wait on the completion provider; keep reading meanwhile.
			// The connection is still tracked here, so the counter is positive.
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.dispatch(c, f)
			}()
			continue
		}
		h.dispatch(c, f)
	}
}

func (h *Handler) dispatch(c *conn, f Frame) {
	ctx := context.Background()
	switch f.Event {
	case EventCreateConversation:
		h.createConversation(ctx, c, f)
	case EventSendMessage:
		h.sendMessage(ctx, c, f)
	case EventJoinConversation:
		h.joinConversation(ctx, c, f)
	case EventLeaveConversation:
		h.leaveConversation(c, f)
	case EventTypingStart:
		h.typing(ctx, c, f, true)
	case EventTypingStop:
		h.typing(ctx, c, f, false)
	default:
		h.fail(c, f, nil, apierror.Validation("event", fmt.Sprintf("unknown event %q", f.Event)))
	}
}

func (h *Handler) createConversation(ctx context.Context, c *conn, f Frame) {
	var req createRequest
	if err := decode(f, &req); err != nil {
		h.fail(c, f, nil, err)
		return
	}
	conv, msgs, err := h.coord.CreateConversation(ctx, c.UserID(), req.InitialMessage)
	if err != nil {
		h.fail(c, f, nil, err)
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		renamed, err := h.coord.RenameConversation(ctx, c.UserID(), conv.ID, *req.Title)
		if err != nil {
			h.fail(c, f, &conv.ID, err)
			return
		}
		conv = renamed
	}
	h.rooms.Join(conv.ID, c)

	payload := map[string]any{"conversation": conv, "messages": msgs}
	c.emit(EventAck, f.ID, Ack{Success: true, Data: payload})
	c.emit(EventConversationCreated, "", payload)
}

func (h *Handler) sendMessage(ctx context.Context, c *conn, f Frame) {
	var req sendRequest
	if err := decode(f, &req); err != nil {
		h.fail(c, f, nil, err)
		return
	}
	convID, err := parseConversationID(req.ConversationID)
	if err != nil {
		h.fail(c, f, nil, err)
		return
	}
	ex, err := h.coord.Send(ctx, coordinator.SendRequest{
		UserID:         c.UserID(),
		ConversationID: convID,
		Text:           req.Message,
		Origin:         c.id,
	})
	if err != nil {
		h.fail(c, f, &convID, err)
		return
	}
	c.emit(EventAck, f.ID, Ack{Success: true, Data: ex})
}

func (h *Handler) joinConversation(ctx context.Context, c *conn, f Frame) {
	var req roomRequest
	if err := decode(f, &req); err != nil {
		h.fail(c, f, nil, err)
		return
	}
	convID, err := parseConversationID(req.ConversationID)
	if err != nil {
		h.fail(c, f, nil, err)
		return
	}
	if _, err := h.store.GetConversation(ctx, c.UserID(), convID); err != nil {
		h.fail(c, f, &convID, err)
		return
	}
	h.rooms.Join(convID, c)
	c.emit(EventAck, f.ID, Ack{Success: true, Data: RoomPayload{ConversationID: convID}})
	c.emit(EventConversationJoined, "", RoomPayload{ConversationID: convID})
}

func (h *Handler) leaveConversation(c *conn, f Frame) {
	var req roomRequest
	if err := decode(f, &req); err != nil {
		h.fail(c, f, nil, err)
		return
	}
	convID, err := parseConversationID(req.ConversationID)
	if err != nil {
		h.fail(c, f, nil, err)
		return
	}
	h.rooms.Leave(convID, c.id)
	c.emit(EventAck, f.ID, Ack{Success: true, Data: RoomPayload{ConversationID: convID}})
	c.emit(EventConversationLeft, "", RoomPayload{ConversationID: convID})
}

func (h *Handler) typing(ctx context.Context, c *conn, f Frame, isTyping bool) {
	var req roomRequest
	if err := decode(f, &req); err != nil {
		h.fail(c, f, nil, err)
		return
	}
	convID, err := parseConversationID(req.ConversationID)
	if err != nil {
		h.fail(c, f, nil, err)
		return
	}
	delivered, err := h.rooms.Typing(ctx, convID, c, isTyping)
	if err != nil {
		h.fail(c, f, &convID, err)
		return
	}
	c.emit(EventAck, f.ID, Ack{Success: true, Data: map[string]bool{"delivered": delivered}})
}

// fail answers the frame with a failed ack and an error event.
func (h *Handler) fail(c *conn, f Frame, conversationID *uuid.UUID, err error) {
	p := apierror.Classify(err)
	c.emit(EventAck, f.ID, Ack{Success: false, Error: &p})
	c.emit(EventError, "", ErrorPayload{Problem: p, Success: false, Event: f.Event, ConversationID: conversationID})
}

func decode(f Frame, v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return apierror.Validation("data", "invalid event data")
	}
	return nil
}

func parseConversationID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apierror.Validation("conversationId", "conversationId must be a valid id")
	}
	return id, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = true
		}
	}
	if len(set) == 0 || set["*"] {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, err := url.Parse(origin); err != nil {
			return false
		}
		return set[origin]
	}
}
