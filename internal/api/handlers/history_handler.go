package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

const defaultRunLimit = 20

// HistoryHandler serves past annotation runs from the local store.
type HistoryHandler struct {
	history HistoryStore
}

func NewHistoryHandler(history HistoryStore) *HistoryHandler {
	return &HistoryHandler{history: history}
}

func (h *HistoryHandler) disabled(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Annotation history is disabled",
	})
}

func (h *HistoryHandler) ListRuns(c *fiber.Ctx) error {
	if h.history == nil {
		return h.disabled(c)
	}

	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	runs, err := h.history.Runs(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list annotation runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load annotation history",
		})
	}
	return c.JSON(fiber.Map{"runs": runs})
}

func (h *HistoryHandler) GetRun(c *fiber.Ctx) error {
	if h.history == nil {
		return h.disabled(c)
	}

	runID := c.Params("id")
	results, err := h.history.Results(c.UserContext(), runID)
	if err != nil {
		logger.Error("Failed to load annotation run", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load annotation history",
		})
	}
	if len(results) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	return c.JSON(fiber.Map{"run_id": runID, "results": results})
}

func (h *HistoryHandler) GetSession(c *fiber.Ctx) error {
	if h.history == nil {
		return h.disabled(c)
	}

	sessionID := c.Params("id")
	results, err := h.history.SessionHistory(c.UserContext(), sessionID)
	if err != nil {
		logger.Error("Failed to load session history", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load annotation history",
		})
	}
	return c.JSON(fiber.Map{"session_id": sessionID, "results": results})
}
