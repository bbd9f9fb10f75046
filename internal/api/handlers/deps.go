package handlers

import (
	"context"
	"time"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

// SessionService is the aggregator surface the handlers use.
type SessionService interface {
	Sessions(ctx context.Context, agent string) ([]models.SessionMetrics, error)
	Tracking(ctx context.Context, q aggregator.TrackingQuery) (*aggregator.TrackingResult, error)
}

// Annotator fills try count and score summary.
type Annotator interface {
	Annotate(ctx context.Context, entries models.Transcript) models.Annotation
	AnnotateAll(ctx context.Context, items []models.SessionMetrics, onResult func(i int, m models.SessionMetrics))
}

// Completer is the completion call behind POST /api/llm.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HistoryStore records and lists annotation runs.
type HistoryStore interface {
	RecordRun(ctx context.Context, run models.AnnotationRun, results []models.AnnotationResult) error
	Runs(ctx context.Context, limit int) ([]models.AnnotationRun, error)
	Results(ctx context.Context, runID string) ([]models.AnnotationResult, error)
	SessionHistory(ctx context.Context, sessionID string) ([]models.AnnotationResult, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
