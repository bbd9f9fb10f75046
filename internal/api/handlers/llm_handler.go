package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/annotator"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

type LLMHandler struct {
	completer Completer
	annotator Annotator
}

func NewLLMHandler(completer Completer, annotator Annotator) *LLMHandler {
	return &LLMHandler{
		completer: completer,
		annotator: annotator,
	}
}

// HandlePrompt sends the caller's prompt with the annotation instructions
// and returns the raw reply.
func (h *LLMHandler) HandlePrompt(c *fiber.Ctx) error {
	var req struct {
		Prompt string `json:"prompt"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Prompt is required",
		})
	}

	resp, err := h.completer.Complete(c.UserContext(), llm.CompletionRequest{
		SystemPrompt: annotator.SystemPrompt,
		UserPrompt:   req.Prompt,
	})
	if err != nil {
		logger.Error("LLM API error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process with LLM",
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"response": resp.Content,
	})
}

// HandleAnnotate annotates one transcript. Extraction failures are
// reported as "null" values, not as errors.
func (h *LLMHandler) HandleAnnotate(c *fiber.Ctx) error {
	var req struct {
		ConversationData models.Transcript `json:"conversation_data"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return c.JSON(h.annotator.Annotate(c.UserContext(), req.ConversationData))
}
