package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/query"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// ChatHandler serves the blocking and streaming chat endpoints. A nil engine
// means the service has not finished initializing and every chat request
// gets a 503.
type ChatHandler struct {
	engine *query.Engine
}

func NewChatHandler(engine *query.Engine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// HandleChat answers a question in one blocking response.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	if h.engine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service is initializing, try again shortly",
		})
	}

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON body",
		})
	}

	resp, err := h.engine.Answer(c.Context(), req.Question, req.SessionID)
	if err != nil {
		logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process your question",
		})
	}

	return c.JSON(resp)
}

// HandleChatStream answers over a streamed body: one `0:"token"` line per
// token in generation order, then exactly one `d:{metadata}` line, or an
// `e:{error}` line if generation fails mid-stream.
func (h *ChatHandler) HandleChatStream(c *fiber.Ctx) error {
	if h.engine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service is initializing, try again shortly",
		})
	}

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON body",
		})
	}

	// Pre-processing failures happen before any byte is written, so they
	// still surface as a regular error status.
	events, err := h.engine.AnswerStream(c.Context(), req.Question, req.SessionID)
	if err != nil {
		logger.Error("Failed to start answer stream", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process your question",
		})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for ev := range events {
			switch {
			case ev.Err != nil:
				writeFrame(w, "e", fiber.Map{"error": "Failed to generate answer"})
				return
			case ev.Meta != nil:
				writeFrame(w, "d", ev.Meta)
			default:
				writeFrame(w, "0", ev.Token)
			}
		}
	}))

	return nil
}

func writeFrame(w *bufio.Writer, prefix string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s:%s\n", prefix, data)
	w.Flush()
}
