package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/config"
)

type stubSessions struct{}

func (stubSessions) Sessions(context.Context, string) ([]models.SessionMetrics, error) {
	return []models.SessionMetrics{}, nil
}

func (stubSessions) Tracking(context.Context, aggregator.TrackingQuery) (*aggregator.TrackingResult, error) {
	return &aggregator.TrackingResult{Records: []models.TrackingRecord{}, Agents: []string{}}, nil
}

type stubAnnotator struct{}

func (stubAnnotator) Annotate(context.Context, models.Transcript) models.Annotation {
	return models.FailedAnnotation
}

func (stubAnnotator) AnnotateAll(context.Context, []models.SessionMetrics, func(int, models.SessionMetrics)) {
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "ok"}, nil
}

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T, perMinute int) *Server {
	t.Helper()
	metrics.Init()
	s := NewServer(config.ServerConfig{Development: true, LLMRequestsPerMinute: perMinute}, Deps{
		Sessions:  stubSessions{},
		Annotator: stubAnnotator{},
		Completer: stubCompleter{},
		DB:        stubDB{},
	})
	t.Cleanup(s.Close)
	return s
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, 10)

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/health", fiber.StatusOK},
		{"GET", "/api/ready", fiber.StatusOK},
		{"GET", "/api/metrics", fiber.StatusOK},
		{"GET", "/api/metrics?sort=bogus", fiber.StatusBadRequest},
		{"GET", "/api/tracking?sortBy=id&order=ASC", fiber.StatusOK},
		{"GET", "/api/tracking?order=sideways", fiber.StatusBadRequest},
		{"GET", "/api/metrics/export?format=json", fiber.StatusOK},
		{"GET", "/api/annotations/runs", fiber.StatusNotFound},
		{"GET", "/metrics", fiber.StatusOK},
		{"GET", "/ws/annotate", fiber.StatusUpgradeRequired},
		{"GET", "/nope", fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := s.App.Test(httptest.NewRequest(tt.method, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		})
	}
}

func TestLLMRoutesAreRateLimited(t *testing.T) {
	s := newTestServer(t, 1)

	send := func() int {
		req := httptest.NewRequest("POST", "/api/llm", strings.NewReader(`{"prompt":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, send())
	assert.Equal(t, fiber.StatusTooManyRequests, send())
}

func TestAnnotatedMetricsAreRateLimited(t *testing.T) {
	get := func(s *Server, path string) int {
		resp, err := s.App.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	t.Run("plain reads are not limited", func(t *testing.T) {
		s := newTestServer(t, 1)
		for i := 0; i < 3; i++ {
			assert.Equal(t, fiber.StatusOK, get(s, "/api/metrics"))
			assert.Equal(t, fiber.StatusOK, get(s, "/api/metrics?annotate=false"))
		}
	})

	t.Run("annotated read", func(t *testing.T) {
		s := newTestServer(t, 1)
		assert.Equal(t, fiber.StatusOK, get(s, "/api/metrics?annotate=true"))
		assert.Equal(t, fiber.StatusTooManyRequests, get(s, "/api/metrics?annotate=true"))
	})

	t.Run("annotated export", func(t *testing.T) {
		s := newTestServer(t, 1)
		assert.Equal(t, fiber.StatusOK, get(s, "/api/metrics/export?format=csv&annotate=1"))
		assert.Equal(t, fiber.StatusTooManyRequests, get(s, "/api/metrics/export?format=csv&annotate=true"))
	})

	t.Run("shares the budget with the llm route", func(t *testing.T) {
		s := newTestServer(t, 1)
		assert.Equal(t, fiber.StatusOK, get(s, "/api/metrics?annotate=true"))
		req := httptest.NewRequest("POST", "/api/llm", strings.NewReader(`{"prompt":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	})
}
