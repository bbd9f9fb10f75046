package handlers

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/export"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/internal/view"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

const sessionExportPrefix = "session_metrics"

type MetricsHandler struct {
	sessions  SessionService
	annotator Annotator
	now       func() time.Time
}

func NewMetricsHandler(sessions SessionService, annotator Annotator) *MetricsHandler {
	return &MetricsHandler{
		sessions:  sessions,
		annotator: annotator,
		now:       time.Now,
	}
}

type metricsParams struct {
	agent    string
	field    view.SortField
	order    view.SortOrder
	search   string
	annotate bool
}

func parseMetricsParams(c *fiber.Ctx) (metricsParams, error) {
	field, err := view.ParseSortField(c.Query("sort"))
	if err != nil {
		return metricsParams{}, err
	}
	order, err := view.ParseSortOrder(c.Query("order"))
	if err != nil {
		return metricsParams{}, err
	}
	annotate := false
	if raw := c.Query("annotate"); raw != "" {
		if annotate, err = strconv.ParseBool(raw); err != nil {
			return metricsParams{}, fmt.Errorf("invalid annotate flag %q", raw)
		}
	}
	return metricsParams{
		agent:    c.Query("agent"),
		field:    field,
		order:    order,
		search:   c.Query("search"),
		annotate: annotate,
	}, nil
}

// load aggregates, optionally annotates, and presents the sessions.
func (h *MetricsHandler) load(ctx context.Context, p metricsParams) ([]models.SessionMetrics, error) {
	items, err := h.sessions.Sessions(ctx, p.agent)
	if err != nil {
		return nil, err
	}
	items = view.Present(view.Search(items, p.search), p.agent, p.field, p.order)
	if p.annotate && h.annotator != nil {
		h.annotator.AnnotateAll(ctx, items, nil)
	}
	return items, nil
}

func (h *MetricsHandler) GetMetrics(c *fiber.Ctx) error {
	p, err := parseMetricsParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	items, err := h.load(c.UserContext(), p)
	if err != nil {
		logger.Error("Failed to fetch metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch metrics",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    items,
	})
}

func (h *MetricsHandler) ExportMetrics(c *fiber.Ctx) error {
	exporter, err := export.NewExporter(c.Query("format"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	p, err := parseMetricsParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	items, err := h.load(c.UserContext(), p)
	if err != nil {
		logger.Error("Failed to fetch metrics for export", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch metrics",
		})
	}

	var buf bytes.Buffer
	if err := exporter.Export(items, &buf); err != nil {
		logger.Error("Failed to export metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export metrics",
		})
	}

	metrics.ExportsTotal.WithLabelValues("sessions", exporter.Extension()).Inc()
	return sendAttachment(c, export.Filename(sessionExportPrefix, exporter.Extension(), h.now()),
		exporter.ContentType(), buf.Bytes())
}

func sendAttachment(c *fiber.Ctx, filename, contentType string, body []byte) error {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(body)
}
