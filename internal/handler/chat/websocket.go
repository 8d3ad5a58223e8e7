package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/middleware"
	chatService "github.com/digitalforce/flexi/backend/internal/service/chat"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsResponse struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWebSocket answers each inbound question frame with exactly one frame
// carrying the whole answer.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	ip := identity.ClientIP(r)

	// The upgrade response is written by the websocket package, so cookies
	// set by earlier middleware have to be handed over explicitly.
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Warn("[websocket] upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("[websocket] connection opened", "session", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	// WriteControl may run concurrently with the answer writes.
	go h.pingLoop(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("[websocket] read error", "session", sessionID, "error", err)
			}
			return
		}

		frame := wsResponse{Error: middleware.RateLimitMessage}
		if h.allowFrame(ip) {
			frame = h.answerFrame(ctx, sessionID, raw)
		}
		if err := h.writeFrame(conn, frame); err != nil {
			h.logger.Warn("[websocket] write failed", "session", sessionID, "error", err)
			return
		}
		// Resolving may outlast the read timeout.
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) allowFrame(ip string) bool {
	if h.limiter == nil {
		return true
	}
	if h.limiter.Allow(ip).Allowed {
		return true
	}
	metrics.RateLimitRejections.Inc()
	h.logger.Warn("[websocket] frame rate limited", "ip", ip)
	return false
}

func (h *Handler) answerFrame(ctx context.Context, sessionID string, raw []byte) wsResponse {
	var payload chatRequest
	if err := json.Unmarshal(raw, &payload); err != nil {
		return wsResponse{Error: "invalid request body"}
	}
	if strings.TrimSpace(payload.Question) == "" {
		return wsResponse{Error: "question is required"}
	}

	answer, err := h.resolver.Resolve(ctx, payload.toRequest(sessionID))
	if err != nil {
		if errors.Is(err, chatService.ErrQuestionRequired) {
			return wsResponse{Error: "question is required"}
		}
		h.logger.Error("[websocket] resolve failed", "session", sessionID, "error", err)
		return wsResponse{Error: "Server error"}
	}
	return wsResponse{Text: answer.Text}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame wsResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
