// Package aggregator queries every registered tracking table concurrently
// and merges the results. A table that fails is logged and skipped; the
// remaining tables still answer.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/internal/storage/postgres"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

// SessionSource reads tracking tables. postgres.Client implements it.
type SessionSource interface {
	Ping(ctx context.Context) error
	QuerySessions(ctx context.Context, table string) ([]models.SessionRow, error)
	QueryTracking(ctx context.Context, table, sortBy, order string) ([]models.TrackingRecord, error)
}

type Options struct {
	// Location renders dates and clock times. Nil means UTC.
	Location *time.Location
	// FanOut caps concurrent table queries. 0 means one goroutine per table.
	FanOut int
}

type Aggregator struct {
	source   SessionSource
	registry *registry.Registry
	loc      *time.Location
	fanOut   int
}

func New(source SessionSource, reg *registry.Registry, opts Options) *Aggregator {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		source:   source,
		registry: reg,
		loc:      loc,
		fanOut:   opts.FanOut,
	}
}

func (a *Aggregator) Registry() *registry.Registry { return a.registry }

// Sessions aggregates the tables selected by agent.
func (a *Aggregator) Sessions(ctx context.Context, agent string) ([]models.SessionMetrics, error) {
	return a.Aggregate(ctx, a.registry.Filter(agent))
}

// Aggregate derives SessionMetrics for every row of every table in specs,
// newest first. It fails only when the database is unreachable or ctx ends.
func (a *Aggregator) Aggregate(ctx context.Context, specs []registry.TableSpec) ([]models.SessionMetrics, error) {
	if err := a.source.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}

	perTable := make([][]models.SessionMetrics, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	if a.fanOut > 0 {
		g.SetLimit(a.fanOut)
	}

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			start := time.Now()
			rows, err := a.source.QuerySessions(gctx, spec.TableName)
			metrics.TableQueryDuration.WithLabelValues("sessions").Observe(time.Since(start).Seconds())
			if err != nil {
				tableFailed(spec, "sessions", err)
				return nil
			}

			out := make([]models.SessionMetrics, 0, len(rows))
			for _, row := range rows {
				out = append(out, models.Derive(row, spec.AgentLabel, a.loc))
			}
			perTable[i] = out
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []models.SessionMetrics
	for _, rows := range perTable {
		merged = append(merged, rows...)
	}
	if merged == nil {
		merged = []models.SessionMetrics{}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.After(merged[j].Start)
	})

	metrics.SessionsServed.Add(float64(len(merged)))
	logger.Debug("Sessions aggregated",
		zap.Int("tables", len(specs)),
		zap.Int("sessions", len(merged)))

	return merged, nil
}

// TrackingQuery selects and orders the detail view.
type TrackingQuery struct {
	SortBy string
	Order  string
	Agent  string
}

type TrackingResult struct {
	Records []models.TrackingRecord
	Agents  []string
}

// Tracking returns full rows from the tables matching q.Agent, merged and
// ordered by q.SortBy and q.Order.
func (a *Aggregator) Tracking(ctx context.Context, q TrackingQuery) (*TrackingResult, error) {
	if err := a.source.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}

	sortBy := postgres.NormalizeSortBy(q.SortBy)
	order := postgres.NormalizeOrder(q.Order)
	specs := a.registry.Filter(q.Agent)

	perTable := make([][]models.TrackingRecord, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	if a.fanOut > 0 {
		g.SetLimit(a.fanOut)
	}

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			start := time.Now()
			rows, err := a.source.QueryTracking(gctx, spec.TableName, sortBy, order)
			metrics.TableQueryDuration.WithLabelValues("tracking").Observe(time.Since(start).Seconds())
			if err != nil {
				tableFailed(spec, "tracking", err)
				return nil
			}
			for j := range rows {
				rows[j].Agent = spec.AgentLabel
			}
			perTable[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := []models.TrackingRecord{}
	for _, rows := range perTable {
		merged = append(merged, rows...)
	}
	SortTracking(merged, sortBy, order)

	return &TrackingResult{
		Records: merged,
		Agents:  a.registry.Agents(),
	}, nil
}

// SortTracking orders records in place by timestamp or id. Records without
// an id sort last in either direction.
func SortTracking(records []models.TrackingRecord, sortBy, order string) {
	desc := postgres.NormalizeOrder(order) == postgres.OrderDesc
	if postgres.NormalizeSortBy(sortBy) == postgres.SortByID {
		sort.SliceStable(records, func(i, j int) bool {
			a, b := records[i].ID, records[j].ID
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			case desc:
				return *a > *b
			default:
				return *a < *b
			}
		})
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

func tableFailed(spec registry.TableSpec, query string, err error) {
	metrics.TableQueryFailures.WithLabelValues(spec.TableName, query).Inc()
	logger.Warn("Table query failed, skipping",
		zap.String("table", spec.TableName),
		zap.String("agent", spec.AgentLabel),
		zap.String("query", query),
		zap.Error(err))
}
