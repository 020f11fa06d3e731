package handlers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/session"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// SystemHandler serves health and index introspection. Vector may be nil
// while the service is initializing.
type SystemHandler struct {
	vector      *milvus.Client
	sessions    session.Store
	manifestDir string
}

func NewSystemHandler(vector *milvus.Client, sessions session.Store, manifestDir string) *SystemHandler {
	return &SystemHandler{
		vector:      vector,
		sessions:    sessions,
		manifestDir: manifestDir,
	}
}

// HandleHealth always answers 200 so load balancers can tell "up but not
// ready" apart from "down".
func (h *SystemHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "ok",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"index_loaded": h.vector != nil,
	})
}

func (h *SystemHandler) HandleIndexInfo(c *fiber.Ctx) error {
	if h.vector == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Index is not loaded",
		})
	}

	total, err := h.vector.Count(c.Context())
	if err != nil {
		logger.Error("Failed to count indexed vectors", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read index stats",
		})
	}

	info := fiber.Map{
		"total_vectors":   total,
		"active_sessions": h.sessions.Count(),
	}

	// The embed manifest is written by the index stage; a missing file just
	// means the index was built elsewhere.
	if manifest, err := h.loadEmbedManifest(); err == nil {
		info["embedding_model"] = manifest.EmbeddingModel
		info["indexed_at"] = manifest.GeneratedAt
		info["languages"] = manifest.Languages
		info["page_types"] = manifest.PageTypes
	}

	return c.JSON(info)
}

func (h *SystemHandler) loadEmbedManifest() (*models.EmbedManifest, error) {
	data, err := os.ReadFile(filepath.Join(h.manifestDir, "embed_manifest.json"))
	if err != nil {
		return nil, err
	}
	var manifest models.EmbedManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
