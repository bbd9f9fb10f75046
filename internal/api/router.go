// Package api assembles the dashboard's fiber application.
package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/acolyte-tracking/dashboard/internal/api/handlers"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/middleware/ratelimit"
	"github.com/acolyte-tracking/dashboard/internal/middleware/security"
	"github.com/acolyte-tracking/dashboard/internal/middleware/validation"
	"github.com/acolyte-tracking/dashboard/pkg/config"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

type Deps struct {
	Sessions  handlers.SessionService
	Annotator handlers.Annotator
	Completer handlers.Completer
	DB        handlers.Pinger
	// History is optional; nil disables run recording and the history routes.
	History  handlers.HistoryStore
	Model    string
	Location *time.Location
}

// Server is the configured app plus the background resources it owns.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

// Close stops background work started by NewServer.
func (s *Server) Close() {
	s.limiter.Stop()
}

func NewServer(cfg config.ServerConfig, d Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ",")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))
	app.Use(validation.Middleware(validation.Config{
		Logger: logger.GetLogger(),
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.LLMRequestsPerMinute,
		Logger:               logger.GetLogger(),
	})

	metricsHandler := handlers.NewMetricsHandler(d.Sessions, d.Annotator)
	trackingHandler := handlers.NewTrackingHandler(d.Sessions, d.Location)
	llmHandler := handlers.NewLLMHandler(d.Completer, d.Annotator)
	wsHandler := handlers.NewWebSocketHandler(d.Sessions, d.Annotator, d.History, d.Model)
	historyHandler := handlers.NewHistoryHandler(d.History)
	healthHandler := handlers.NewHealthHandler(d.DB)

	api := app.Group("/api")

	annotated := limiter.MiddlewareWhen(wantsAnnotation)
	api.Get("/metrics", annotated, metricsHandler.GetMetrics)
	api.Get("/metrics/export", annotated, metricsHandler.ExportMetrics)

	api.Get("/tracking", trackingHandler.GetTracking)
	api.Get("/tracking/export", trackingHandler.ExportTracking)

	api.Post("/llm", limiter.Middleware(), llmHandler.HandlePrompt)
	api.Post("/annotate", limiter.Middleware(), llmHandler.HandleAnnotate)

	api.Get("/annotations/runs", historyHandler.ListRuns)
	api.Get("/annotations/runs/:id", historyHandler.GetRun)
	api.Get("/annotations/sessions/:id", historyHandler.GetSession)

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/annotate", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

// wantsAnnotation reports whether a metrics read will call the completion
// API once per session.
func wantsAnnotation(c *fiber.Ctx) bool {
	on, err := strconv.ParseBool(c.Query("annotate"))
	return err == nil && on
}
