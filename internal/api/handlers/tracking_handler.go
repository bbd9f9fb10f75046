package handlers

import (
	"bytes"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/export"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/view"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

const trackingExportPrefix = "conversation_data"

type TrackingHandler struct {
	sessions SessionService
	loc      *time.Location
	now      func() time.Time
}

// NewTrackingHandler renders local-time export columns in loc.
func NewTrackingHandler(sessions SessionService, loc *time.Location) *TrackingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TrackingHandler{
		sessions: sessions,
		loc:      loc,
		now:      time.Now,
	}
}

func trackingQuery(c *fiber.Ctx) aggregator.TrackingQuery {
	return aggregator.TrackingQuery{
		SortBy: c.Query("sortBy", "timestamp"),
		Order:  c.Query("order", "DESC"),
		Agent:  c.Query("agent"),
	}
}

func (h *TrackingHandler) GetTracking(c *fiber.Ctx) error {
	res, err := h.sessions.Tracking(c.UserContext(), trackingQuery(c))
	if err != nil {
		logger.Error("Failed to fetch conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversations",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    view.SearchTracking(res.Records, c.Query("search")),
		"agents":  res.Agents,
	})
}

func (h *TrackingHandler) ExportTracking(c *fiber.Ctx) error {
	format := strings.ToLower(c.Query("format", export.FormatCSV))
	if format != export.FormatCSV && format != export.FormatJSON {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported export format",
		})
	}

	res, err := h.sessions.Tracking(c.UserContext(), trackingQuery(c))
	if err != nil {
		logger.Error("Failed to fetch conversations for export", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversations",
		})
	}
	records := view.SearchTracking(res.Records, c.Query("search"))

	var (
		buf         bytes.Buffer
		contentType string
	)
	if format == export.FormatJSON {
		err = export.TrackingJSON(records, &buf)
		contentType = "application/json"
	} else {
		err = export.TrackingCSV(records, h.loc, &buf)
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		logger.Error("Failed to export conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export conversations",
		})
	}

	metrics.ExportsTotal.WithLabelValues("tracking", format).Inc()
	return sendAttachment(c, export.Filename(trackingExportPrefix, format, h.now()), contentType, buf.Bytes())
}
