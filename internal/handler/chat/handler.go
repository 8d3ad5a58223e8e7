package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/middleware"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
	chatService "github.com/digitalforce/flexi/backend/internal/service/chat"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

const maxRequestBytes = 256 << 10

// Resolver answers one visitor question.
type Resolver interface {
	Resolve(ctx context.Context, req chatService.Request) (chatService.Answer, error)
}

// Limiter counts one request for a client address.
type Limiter interface {
	Allow(key string) middleware.Decision
}

// Handler serves the chat endpoints.
type Handler struct {
	resolver Resolver
	limiter  Limiter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	readTimeout time.Duration
}

// New creates a chat handler. limiter is charged for every WebSocket frame;
// nil leaves frames unlimited. checkOrigin guards WebSocket upgrades; nil
// accepts any origin.
func New(resolver Resolver, limiter Limiter, logger *slog.Logger, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		resolver: resolver,
		limiter:  limiter,
		logger:   logging.OrDefault(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: wsReadTimeout,
	}
}

// RegisterRoutes registers the chat routes. Callers wrap r with the session,
// rate limit and access middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

// RegisterDebugRoutes registers the unauthenticated client diagnostics route.
func (h *Handler) RegisterDebugRoutes(r chi.Router) {
	r.Get("/debug", h.handleDebug)
}

type chatRequest struct {
	Question string         `json:"question"`
	History  []chat.Message `json:"history"`
	Prompt   string         `json:"prompt"`
}

func (p chatRequest) toRequest(sessionID string) chatService.Request {
	return chatService.Request{
		SessionID: sessionID,
		Question:  p.Question,
		History:   p.History,
		Prompt:    p.Prompt,
	}
}

type chatResponse struct {
	Text string `json:"text"`
}

// handleChat answers POST /api/chat.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(w, r, &payload, maxRequestBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Question) == "" {
		utils.RespondError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.resolver.Resolve(r.Context(), payload.toRequest(identity.SessionIDFromContext(r.Context())))
	if err != nil {
		if errors.Is(err, chatService.ErrQuestionRequired) {
			utils.RespondError(w, http.StatusBadRequest, "question is required")
			return
		}
		h.logger.Error("[chat] resolve failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Text: answer.Text})
}

type debugResponse struct {
	Received bool    `json:"received"`
	Origin   *string `json:"origin"`
	UA       *string `json:"ua"`
}

// handleDebug reports whether the test token header arrived, without echoing it.
func (h *Handler) handleDebug(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, debugResponse{
		Received: r.Header.Get(middleware.TestTokenHeader) != "",
		Origin:   optional(r.Header.Get("Origin")),
		UA:       optional(r.Header.Get("User-Agent")),
	})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
