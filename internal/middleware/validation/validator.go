package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	// MaxQueryParamLength bounds every query-string value.
	MaxQueryParamLength int
	AllowedContentTypes []string
	// Enums lists the accepted values of named query parameters, compared
	// case-insensitively. Absent or empty parameters are always accepted.
	Enums  map[string][]string
	Logger *zap.Logger
}

// DefaultEnums are the enumerated query parameters of the dashboard API.
var DefaultEnums = map[string][]string{
	"sortBy": {"timestamp", "id"},
	"order":  {"asc", "desc"},
	"sort":   {"date", "agent", "conversation_count", "start_time", "end_time", "duration"},
	"format": {"csv", "json", "yaml", "yml"},
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryParamLength == 0 {
		cfg.MaxQueryParamLength = 256
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Enums == nil {
		cfg.Enums = DefaultEnums
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		var bad string
		c.Context().QueryArgs().VisitAll(func(k, v []byte) {
			if bad != "" {
				return
			}
			key, value := string(k), string(v)
			if len(value) > cfg.MaxQueryParamLength || strings.ContainsRune(value, 0) {
				bad = key
				return
			}
			if allowed, ok := cfg.Enums[key]; ok && value != "" && !oneOf(value, allowed) {
				bad = key
			}
		})
		if bad != "" {
			cfg.Logger.Warn("Rejected query parameter",
				zap.String("param", bad),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid value for parameter " + bad,
			})
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}
