package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

const MaxQuestionLength = 2000

type Config struct {
	MaxQuestionLength int
}

// Middleware enforces the chat request contract on the /chat routes before
// any handler runs: JSON body, non-blank question, bounded length. Other
// routes pass through untouched.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = MaxQuestionLength
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || !strings.HasPrefix(c.Path(), "/chat") {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var req struct {
			Question string `json:"question"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON body",
			})
		}

		question := strings.TrimSpace(req.Question)
		if question == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question is required",
			})
		}
		// Characters, not bytes: Arabic questions run 2+ bytes per rune.
		if utf8.RuneCountInString(req.Question) > cfg.MaxQuestionLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question exceeds maximum length",
			})
		}

		return c.Next()
	}
}
