package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cellavenue/rag-backend/internal/session"
)

type SessionHandler struct {
	sessions session.Store
}

func NewSessionHandler(sessions session.Store) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// HandleCreate mints a fresh session id for clients that want one before
// their first question.
func (h *SessionHandler) HandleCreate(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"session_id": h.sessions.Create(),
	})
}
