package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/query"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// WebSocketHandler exposes the same tagged token stream as the SSE endpoint
// over a websocket, one answer per incoming message.
type WebSocketHandler struct {
	engine *query.Engine
}

func NewWebSocketHandler(engine *query.Engine) *WebSocketHandler {
	return &WebSocketHandler{engine: engine}
}

type wsRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}

		if req.Question == "" {
			h.sendError(c, "question is required")
			continue
		}

		if h.engine == nil {
			h.sendError(c, "Service is initializing, try again shortly")
			continue
		}

		if err := h.streamAnswer(c, req); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, "Failed to process your question")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, req wsRequest) error {
	// A failed write returns before the channel is drained; the cancel
	// lets the producer goroutine exit instead of blocking on a send.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := h.engine.AnswerStream(ctx, req.Question, req.SessionID)
	if err != nil {
		return err
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.sendError(c, "Failed to generate answer")
			return nil
		case ev.Meta != nil:
			if err := c.WriteJSON(map[string]any{
				"type":     "metadata",
				"metadata": ev.Meta,
			}); err != nil {
				return err
			}
		default:
			if err := c.WriteJSON(map[string]any{
				"type":    "token",
				"content": ev.Token,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, msg string) {
	c.WriteJSON(map[string]any{"type": "error", "error": msg})
}
