// Package annotator asks a completion model for a session's try count and
// score summary. Annotation is best effort: every failure is reported as
// the "null" sentinel, never as an error.
package annotator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
	"github.com/acolyte-tracking/dashboard/pkg/utils"
)

// SystemPrompt instructs the model to report tries and scores in a fixed
// two-line format.
const SystemPrompt = `For this conversation, help me deduce the following metrics or data.
1. Extract how many number of tries the user had to reach a perfect response or their own satisfactory response or till end of conversation.
2. Extract the scores the user scored in each try. For reference, the scores are on a 8 point or 16 point scale. Ensure to not process the actual prompt explaining the scoring rubric. For reference, the data to look for will be like "Total Score:" If Total Score is not available, return null.

Provide the output in this exact format:
try_count: [number of tries]
score_summary: [scores for each try]

Example output:
try_count: 3
score_summary: try 1, score 4/8; try 2, score 6/8; try 3, score 7/8

If no tries or scores are available, return:
try_count: 0
score_summary: null`

const (
	OutcomeParsed   = "parsed"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
	OutcomeCached   = "cached"
)

var (
	tryCountPattern     = regexp.MustCompile(`try_count:\s*(\d+|null)`)
	scoreSummaryPattern = regexp.MustCompile(`score_summary:\s*(.+)`)
)

// Completer is the completion call the annotator depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Cache stores annotations by transcript hash. The redis client
// implements it.
type Cache interface {
	GetAnnotation(ctx context.Context, hash string) (models.Annotation, bool, error)
	SetAnnotation(ctx context.Context, hash string, a models.Annotation) error
}

type Annotator struct {
	completer   Completer
	cache       Cache
	concurrency int
}

type Option func(*Annotator)

// WithCache enables the annotation cache.
func WithCache(c Cache) Option {
	return func(a *Annotator) { a.cache = c }
}

// WithConcurrency caps in-flight completions in AnnotateAll. 0 is unlimited.
func WithConcurrency(n int) Option {
	return func(a *Annotator) { a.concurrency = n }
}

func New(completer Completer, opts ...Option) *Annotator {
	a := &Annotator{completer: completer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FormatTranscript renders entries as indented JSON.
func FormatTranscript(entries models.Transcript) string {
	if entries == nil {
		entries = models.Transcript{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ParseReply extracts try_count and score_summary from a model reply.
// A field that does not match becomes "null".
func ParseReply(text string) models.Annotation {
	a := models.FailedAnnotation
	if m := tryCountPattern.FindStringSubmatch(text); m != nil {
		a.TryCount = m[1]
	}
	if m := scoreSummaryPattern.FindStringSubmatch(text); m != nil {
		if s := strings.TrimSpace(m[1]); s != "" {
			a.ScoreSummary = s
		}
	}
	return a
}

// Annotate returns the annotation for one transcript.
func (a *Annotator) Annotate(ctx context.Context, entries models.Transcript) models.Annotation {
	transcript := FormatTranscript(entries)
	hash := utils.HashString(transcript)

	if a.cache != nil {
		cached, ok, err := a.cache.GetAnnotation(ctx, hash)
		if err != nil {
			logger.Warn("Annotation cache read failed", zap.Error(err))
		} else if ok {
			metrics.CacheHits.WithLabelValues("annotation").Inc()
			metrics.AnnotationOutcomes.WithLabelValues(OutcomeCached).Inc()
			return cached
		} else {
			metrics.CacheMisses.WithLabelValues("annotation").Inc()
		}
	}

	resp, err := a.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt,
		UserPrompt:   transcript,
	})
	if err != nil {
		metrics.AnnotationOutcomes.WithLabelValues(OutcomeError).Inc()
		logger.Warn("Annotation failed", zap.Error(err))
		return models.FailedAnnotation
	}

	result := ParseReply(resp.Content)
	if result == models.FailedAnnotation {
		metrics.AnnotationOutcomes.WithLabelValues(OutcomeFallback).Inc()
		logger.Debug("Annotation reply did not match", zap.Int("reply_length", len(resp.Content)))
		return result
	}
	metrics.AnnotationOutcomes.WithLabelValues(OutcomeParsed).Inc()

	if a.cache != nil {
		if err := a.cache.SetAnnotation(ctx, hash, result); err != nil {
			logger.Warn("Annotation cache write failed", zap.Error(err))
		}
	}
	return result
}

// AnnotateAll annotates items in place, one completion per session.
// onResult, when set, is called as each session finishes; calls may come
// from several goroutines at once.
func (a *Annotator) AnnotateAll(ctx context.Context, items []models.SessionMetrics, onResult func(i int, m models.SessionMetrics)) {
	g := new(errgroup.Group)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}

	for i := range items {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				items[i].Apply(models.FailedAnnotation)
			} else {
				items[i].Apply(a.Annotate(ctx, items[i].ConversationData))
			}
			if onResult != nil {
				onResult(i, items[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Sessions annotated", zap.Int("count", len(items)))
}
