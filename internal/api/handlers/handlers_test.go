package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/annotator"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

type fakeSessions struct {
	items     []models.SessionMetrics
	tracking  *aggregator.TrackingResult
	err       error
	lastAgent string
	lastQuery aggregator.TrackingQuery
}

func (f *fakeSessions) Sessions(_ context.Context, agent string) ([]models.SessionMetrics, error) {
	f.lastAgent = agent
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.SessionMetrics, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeSessions) Tracking(_ context.Context, q aggregator.TrackingQuery) (*aggregator.TrackingResult, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.tracking, nil
}

type fakeAnnotator struct {
	result models.Annotation
}

func (f *fakeAnnotator) Annotate(context.Context, models.Transcript) models.Annotation {
	return f.result
}

func (f *fakeAnnotator) AnnotateAll(_ context.Context, items []models.SessionMetrics, onResult func(int, models.SessionMetrics)) {
	for i := range items {
		items[i].Apply(f.result)
		if onResult != nil {
			onResult(i, items[i])
		}
	}
}

type fakeCompleter struct {
	last llm.CompletionRequest
	resp string
	err  error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.resp}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var fixedNow = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }

func sessionFixture() []models.SessionMetrics {
	return []models.SessionMetrics{
		{SessionID: "a", Agent: "Block 3", Date: "1/14/2025", StartTime: "10:00:00 AM", EndTime: "10:01:00 AM", ConversationCount: 1},
		{SessionID: "b", Agent: "Block 5", Date: "1/15/2025", StartTime: "9:00:00 AM", EndTime: "9:10:00 AM", ConversationCount: 3},
	}
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func metricsApp(s SessionService, a Annotator) *fiber.App {
	h := NewMetricsHandler(s, a)
	h.now = fixedNow
	app := fiber.New()
	app.Get("/api/metrics", h.GetMetrics)
	app.Get("/api/metrics/export", h.ExportMetrics)
	return app
}

func TestGetMetrics(t *testing.T) {
	s := &fakeSessions{items: sessionFixture()}
	app := metricsApp(s, &fakeAnnotator{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics?sort=date&order=desc", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	data := body["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "b", data[0].(map[string]any)["session_id"])
	assert.NotContains(t, data[0].(map[string]any), "try_count")
}

func TestGetMetrics_AgentFilterAndAnnotate(t *testing.T) {
	s := &fakeSessions{items: sessionFixture()}
	a := &fakeAnnotator{result: models.Annotation{TryCount: "2", ScoreSummary: "6/8"}}
	app := metricsApp(s, a)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics?agent=Block+3&annotate=true", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := decode(t, resp)["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, "a", row["session_id"])
	assert.Equal(t, "2", row["try_count"])
	assert.Equal(t, "Block 3", s.lastAgent)
}

func TestGetMetrics_Failure(t *testing.T) {
	app := metricsApp(&fakeSessions{err: errors.New("pool closed")}, &fakeAnnotator{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to fetch metrics", decode(t, resp)["error"])
}

func TestGetMetrics_BadSort(t *testing.T) {
	app := metricsApp(&fakeSessions{}, &fakeAnnotator{})
	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics?sort=score", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestExportMetrics_CSV(t *testing.T) {
	app := metricsApp(&fakeSessions{items: sessionFixture()}, &fakeAnnotator{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics/export?format=csv", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="session_metrics_UTC_2025-01-15.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

	body, _ := io.ReadAll(resp.Body)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], `"b",`))
}

func TestExportMetrics_UnsupportedFormat(t *testing.T) {
	app := metricsApp(&fakeSessions{}, &fakeAnnotator{})
	resp, err := app.Test(httptest.NewRequest("GET", "/api/metrics/export?format=pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func trackingApp(s SessionService) *fiber.App {
	h := NewTrackingHandler(s, time.UTC)
	h.now = fixedNow
	app := fiber.New()
	app.Get("/api/tracking", h.GetTracking)
	app.Get("/api/tracking/export", h.ExportTracking)
	return app
}

func trackingFixture() *aggregator.TrackingResult {
	id := int64(4)
	return &aggregator.TrackingResult{
		Records: []models.TrackingRecord{
			{ID: &id, SessionID: "s1", Agent: "Block 3", Timestamp: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
				ConversationData: models.Transcript{{Question: "pricing?", Response: "ok", Timestamp: "2025-01-15T10:00:00Z"}}},
			{SessionID: "s2", Agent: "Block 5", Timestamp: time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)},
		},
		Agents: []string{"Block 3", "Block 5"},
	}
}

func TestGetTracking(t *testing.T) {
	s := &fakeSessions{tracking: trackingFixture()}
	app := trackingApp(s)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/tracking?sortBy=id&order=ASC&agent=all&search=PRICING", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []any{"Block 3", "Block 5"}, body["agents"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "s1", data[0].(map[string]any)["session_id"])
	assert.Equal(t, aggregator.TrackingQuery{SortBy: "id", Order: "ASC", Agent: "all"}, s.lastQuery)
}

func TestGetTracking_Defaults(t *testing.T) {
	s := &fakeSessions{tracking: trackingFixture()}
	_, err := trackingApp(s).Test(httptest.NewRequest("GET", "/api/tracking", nil))
	require.NoError(t, err)
	assert.Equal(t, aggregator.TrackingQuery{SortBy: "timestamp", Order: "DESC"}, s.lastQuery)
}

func TestGetTracking_Failure(t *testing.T) {
	resp, err := trackingApp(&fakeSessions{err: errors.New("down")}).
		Test(httptest.NewRequest("GET", "/api/tracking", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to fetch conversations", decode(t, resp)["error"])
}

func TestExportTracking(t *testing.T) {
	app := trackingApp(&fakeSessions{tracking: trackingFixture()})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/tracking/export?format=json", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="conversation_data_UTC_2025-01-15.json"`, resp.Header.Get("Content-Disposition"))

	var got []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/tracking/export?format=yaml", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func llmApp(c Completer, a Annotator) *fiber.App {
	h := NewLLMHandler(c, a)
	app := fiber.New()
	app.Post("/api/llm", h.HandlePrompt)
	app.Post("/api/annotate", h.HandleAnnotate)
	return app
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandlePrompt(t *testing.T) {
	c := &fakeCompleter{resp: "try_count: 1\nscore_summary: 8/8"}
	resp, err := llmApp(c, &fakeAnnotator{}).Test(postJSON("/api/llm", `{"prompt":"transcript"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "try_count: 1\nscore_summary: 8/8", body["response"])
	assert.Equal(t, annotator.SystemPrompt, c.last.SystemPrompt)
	assert.Equal(t, "transcript", c.last.UserPrompt)
}

func TestHandlePrompt_Errors(t *testing.T) {
	app := llmApp(&fakeCompleter{err: errors.New("503")}, &fakeAnnotator{})

	resp, err := app.Test(postJSON("/api/llm", `{"prompt":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to process with LLM", decode(t, resp)["error"])

	resp, err = app.Test(postJSON("/api/llm", `{}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleAnnotate(t *testing.T) {
	a := &fakeAnnotator{result: models.FailedAnnotation}
	resp, err := llmApp(&fakeCompleter{}, a).Test(postJSON("/api/annotate",
		`{"conversation_data":[{"question":"q","response":"r","timestamp":"t"}]}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "null", body["try_count"])
	assert.Equal(t, "null", body["score_summary"])
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler(fakePinger{err: errors.New("refused")})
	app.Get("/api/health", h.Health)
	app.Get("/api/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

type fakeHistory struct {
	mu        sync.Mutex
	runs      []models.AnnotationRun
	results   map[string][]models.AnnotationResult
	err       error
	lastLimit int
}

func (f *fakeHistory) RecordRun(_ context.Context, run models.AnnotationRun, results []models.AnnotationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	if f.results == nil {
		f.results = map[string][]models.AnnotationResult{}
	}
	f.results[run.ID] = results
	return f.err
}

func (f *fakeHistory) Runs(_ context.Context, limit int) ([]models.AnnotationRun, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func (f *fakeHistory) Results(_ context.Context, runID string) ([]models.AnnotationResult, error) {
	return f.results[runID], f.err
}

func (f *fakeHistory) SessionHistory(_ context.Context, sessionID string) ([]models.AnnotationResult, error) {
	var out []models.AnnotationResult
	for _, rs := range f.results {
		for _, r := range rs {
			if r.SessionID == sessionID {
				out = append(out, r)
			}
		}
	}
	return out, f.err
}

func (f *fakeHistory) Prune(context.Context, time.Time) (int64, error) { return 0, f.err }

func historyApp(h HistoryStore) *fiber.App {
	app := fiber.New()
	hh := NewHistoryHandler(h)
	app.Get("/runs", hh.ListRuns)
	app.Get("/runs/:id", hh.GetRun)
	app.Get("/sessions/:id", hh.GetSession)
	return app
}

func TestHistoryHandler(t *testing.T) {
	h := &fakeHistory{}
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	run, results := models.NewRun("run-1", "websocket", "all", "gpt-4o-mini", at, at, sessionFixture())
	require.NoError(t, h.RecordRun(context.Background(), run, results))
	app := historyApp(h)

	resp, err := app.Test(httptest.NewRequest("GET", "/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, resp)["runs"], 1)
	assert.Equal(t, defaultRunLimit, h.lastLimit)

	resp, err = app.Test(httptest.NewRequest("GET", "/runs?limit=5", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, h.lastLimit)

	resp, err = app.Test(httptest.NewRequest("GET", "/runs?limit=0", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/runs/run-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, resp)["results"], len(sessionFixture()))

	resp, err = app.Test(httptest.NewRequest("GET", "/runs/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/sessions/"+sessionFixture()[0].SessionID, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, resp)["results"], 1)
}

func TestHistoryHandler_Disabled(t *testing.T) {
	resp, err := historyApp(nil).Test(httptest.NewRequest("GET", "/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHistoryHandler_StoreError(t *testing.T) {
	resp, err := historyApp(&fakeHistory{err: errors.New("disk I/O error")}).Test(httptest.NewRequest("GET", "/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
