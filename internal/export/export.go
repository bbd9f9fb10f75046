// Package export writes the dashboard's session and tracking views as
// downloadable files. Rows are written in the order given.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/internal/view"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Exporter serializes session metrics.
type Exporter interface {
	Export(items []models.SessionMetrics, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case FormatCSV, "":
		return csvExporter{}, nil
	case FormatJSON:
		return jsonExporter{}, nil
	case FormatYAML, "yml":
		return yamlExporter{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Filename is "<prefix>_UTC_<YYYY-MM-DD>.<ext>" for the UTC date of now.
func Filename(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_UTC_%s.%s", prefix, now.UTC().Format("2006-01-02"), ext)
}

// Record is one exported session row.
type Record struct {
	SessionID         string `json:"session_id" yaml:"session_id"`
	Date              string `json:"date" yaml:"date"`
	Agent             string `json:"agent" yaml:"agent"`
	ConversationCount int    `json:"conversation_count" yaml:"conversation_count"`
	StartTime         string `json:"start_time" yaml:"start_time"`
	EndTime           string `json:"end_time" yaml:"end_time"`
	Duration          string `json:"duration" yaml:"duration"`
	TryCount          string `json:"try_count" yaml:"try_count"`
	ScoreSummary      string `json:"score_summary" yaml:"score_summary"`
}

// Records maps items to export rows. Missing annotations become empty.
func Records(items []models.SessionMetrics) []Record {
	out := make([]Record, 0, len(items))
	for _, m := range items {
		r := Record{
			SessionID:         m.SessionID,
			Date:              m.Date,
			Agent:             m.Agent,
			ConversationCount: m.ConversationCount,
			StartTime:         m.StartTime,
			EndTime:           m.EndTime,
			Duration:          view.FormatDuration(view.Duration(m)),
		}
		if m.TryCount != nil {
			r.TryCount = *m.TryCount
		}
		if m.ScoreSummary != nil {
			r.ScoreSummary = *m.ScoreSummary
		}
		out = append(out, r)
	}
	return out
}

var sessionHeader = []string{
	"Session ID", "Date", "Agent", "Conversations", "Start Time",
	"End Time", "Duration", "Try Count", "Score Summary",
}

type csvExporter struct{}

func (csvExporter) Extension() string   { return FormatCSV }
func (csvExporter) ContentType() string { return "text/csv; charset=utf-8" }

func (csvExporter) Export(items []models.SessionMetrics, w io.Writer) error {
	cw := newQuotedWriter(w)
	cw.header(sessionHeader)
	for _, r := range Records(items) {
		cw.write([]string{
			r.SessionID, r.Date, r.Agent, fmt.Sprint(r.ConversationCount),
			r.StartTime, r.EndTime, r.Duration, r.TryCount, r.ScoreSummary,
		})
	}
	return cw.err
}

type jsonExporter struct{}

func (jsonExporter) Extension() string   { return FormatJSON }
func (jsonExporter) ContentType() string { return "application/json" }

func (jsonExporter) Export(items []models.SessionMetrics, w io.Writer) error {
	return writeJSON(w, Records(items))
}

type yamlExporter struct{}

func (yamlExporter) Extension() string   { return FormatYAML }
func (yamlExporter) ContentType() string { return "application/x-yaml" }

func (yamlExporter) Export(items []models.SessionMetrics, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Records(items)); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// quotedWriter writes CSV with every field quoted, which encoding/csv
// cannot be configured to do.
type quotedWriter struct {
	w   io.Writer
	err error
}

func newQuotedWriter(w io.Writer) *quotedWriter {
	return &quotedWriter{w: w}
}

// header writes the column names unquoted.
func (q *quotedWriter) header(names []string) {
	if q.err != nil {
		return
	}
	_, q.err = io.WriteString(q.w, strings.Join(names, ",")+"\n")
}

func (q *quotedWriter) write(fields []string) {
	if q.err != nil {
		return
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Quote(f))
	}
	b.WriteByte('\n')
	_, q.err = io.WriteString(q.w, b.String())
}

// Quote wraps s in double quotes, doubling any quotes inside it.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
