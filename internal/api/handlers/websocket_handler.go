package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

// WebSocketHandler streams annotation results for a set of sessions as
// each one completes.
type WebSocketHandler struct {
	sessions  SessionService
	annotator Annotator
	history   HistoryStore
	model     string
}

// NewWebSocketHandler builds the handler. history may be nil, in which
// case runs are not recorded.
func NewWebSocketHandler(sessions SessionService, annotator Annotator, history HistoryStore, model string) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:  sessions,
		annotator: annotator,
		history:   history,
		model:     model,
	}
}

type annotateRequest struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type streamMessage struct {
	Type         string `json:"type"`
	RunID        string `json:"run_id,omitempty"`
	Content      string `json:"content,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Agent        string `json:"agent,omitempty"`
	TryCount     string `json:"try_count,omitempty"`
	ScoreSummary string `json:"score_summary,omitempty"`
	Count        int    `json:"count"`
	Error        string `json:"error,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg annotateRequest
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "annotate" {
			continue
		}

		if err := h.streamAnnotations(c, msg.Agent); err != nil {
			logger.Error("Failed to stream annotations", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamAnnotations(c *websocket.Conn, agent string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.NewString()
	started := time.Now().UTC()
	out := &lockedWriter{conn: c}

	if err := out.send(streamMessage{Type: "status", RunID: runID, Content: "Loading sessions..."}); err != nil {
		return err
	}

	items, err := h.sessions.Sessions(ctx, agent)
	if err != nil {
		logger.Error("Failed to fetch sessions for annotation", zap.Error(err))
		return out.send(streamMessage{Type: "error", RunID: runID, Error: "Failed to fetch metrics"})
	}

	if err := out.send(streamMessage{Type: "status", RunID: runID, Content: "Annotating sessions...", Count: len(items)}); err != nil {
		return err
	}

	logger.Info("Annotation run started",
		zap.String("run_id", runID),
		zap.String("agent", agent),
		zap.Int("sessions", len(items)),
	)

	h.annotator.AnnotateAll(ctx, items, func(_ int, m models.SessionMetrics) {
		msg := streamMessage{
			Type:      "annotation",
			RunID:     runID,
			SessionID: m.SessionID,
			Agent:     m.Agent,
		}
		if m.TryCount != nil {
			msg.TryCount = *m.TryCount
		}
		if m.ScoreSummary != nil {
			msg.ScoreSummary = *m.ScoreSummary
		}
		if err := out.send(msg); err != nil {
			cancel()
		}
	})

	if out.failed() {
		return out.err
	}
	h.record(runID, agent, started, items)
	return out.send(streamMessage{Type: "complete", RunID: runID, Count: len(items)})
}

func (h *WebSocketHandler) record(runID, agent string, started time.Time, items []models.SessionMetrics) {
	if h.history == nil {
		return
	}
	run, results := models.NewRun(runID, "websocket", agent, h.model, started, time.Now().UTC(), items)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.history.RecordRun(ctx, run, results); err != nil {
		logger.Warn("Failed to record annotation run", zap.String("run_id", runID), zap.Error(err))
	}
}

// lockedWriter serialises writes from the annotation goroutines and
// remembers the first failure.
type lockedWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

func (w *lockedWriter) send(msg streamMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.err = w.conn.WriteJSON(msg)
	return w.err
}

func (w *lockedWriter) failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err != nil
}
