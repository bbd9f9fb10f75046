package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout and ClockLayout render the dashboard's date and time columns.
	DateLayout  = "1/2/2006"
	ClockLayout = "3:04:05 PM"

	// NotFound is the annotation value meaning the model reported nothing.
	NotFound = "null"
)

// ConversationEntry is one question/response exchange of a session.
type ConversationEntry struct {
	Question  string `json:"question" yaml:"question"`
	Response  string `json:"response" yaml:"response"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

// Transcript is the conversation_data column: entries in the order they
// occurred. It scans from json/jsonb columns; NULL becomes empty.
type Transcript []ConversationEntry

func (t *Transcript) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = Transcript{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("conversation_data: unsupported type %T", src)
	}
	return t.UnmarshalJSON(data)
}

func (t Transcript) Value() (driver.Value, error) {
	return json.Marshal([]ConversationEntry(t))
}

// UnmarshalJSON accepts an array, null, or an array encoded as a JSON
// string (rows written by clients that stringified the payload).
func (t *Transcript) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*t = Transcript{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return fmt.Errorf("conversation_data: %w", err)
		}
		return t.UnmarshalJSON([]byte(inner))
	}
	var entries []ConversationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("conversation_data: %w", err)
	}
	if entries == nil {
		entries = []ConversationEntry{}
	}
	*t = entries
	return nil
}

// SessionRow is the summary-query shape of a tracking table row.
type SessionRow struct {
	SessionID        string
	Timestamp        time.Time
	ConversationData Transcript
}

// TrackingRecord is a full row from a tracking table with its agent label.
// Columns beyond the known ones are kept in Extra.
type TrackingRecord struct {
	ID               *int64
	SessionID        string
	Timestamp        time.Time
	ConversationData Transcript
	Agent            string
	Extra            map[string]any
}

func (r TrackingRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.ID != nil {
		out["id"] = *r.ID
	}
	out["session_id"] = r.SessionID
	out["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	data := r.ConversationData
	if data == nil {
		data = Transcript{}
	}
	out["conversation_data"] = data
	out["agent"] = r.Agent
	return json.Marshal(out)
}

// SessionMetrics is the derived, display-ready view of one session.
type SessionMetrics struct {
	SessionID         string     `json:"session_id"`
	Date              string     `json:"date"`
	Agent             string     `json:"agent"`
	ConversationCount int        `json:"conversation_count"`
	StartTime         string     `json:"start_time"`
	EndTime           string     `json:"end_time"`
	ConversationData  Transcript `json:"conversation_data"`
	TryCount          *string    `json:"try_count,omitempty"`
	ScoreSummary      *string    `json:"score_summary,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Start     time.Time `json:"-"`
	End       time.Time `json:"-"`
}

// Annotation is the model-extracted try count and score summary of a
// session. Either field may be NotFound.
type Annotation struct {
	TryCount     string `json:"try_count" yaml:"try_count"`
	ScoreSummary string `json:"score_summary" yaml:"score_summary"`
}

// FailedAnnotation is recorded when extraction could not run or parse.
var FailedAnnotation = Annotation{TryCount: NotFound, ScoreSummary: NotFound}

// Apply stores a on m.
func (m *SessionMetrics) Apply(a Annotation) {
	m.TryCount = StringPtr(a.TryCount)
	m.ScoreSummary = StringPtr(a.ScoreSummary)
}

// Annotated reports whether try count and score summary have been set.
func (m SessionMetrics) Annotated() bool {
	return m.TryCount != nil && m.ScoreSummary != nil
}

// Derive maps a row to SessionMetrics. Start and end come from the first
// and last transcript entries, falling back to the row timestamp when the
// transcript is empty or an entry timestamp is missing or unparseable.
func Derive(row SessionRow, agent string, loc *time.Location) SessionMetrics {
	if loc == nil {
		loc = time.UTC
	}
	data := row.ConversationData
	if data == nil {
		data = Transcript{}
	}

	start, end := row.Timestamp, row.Timestamp
	if n := len(data); n > 0 {
		if ts, ok := ParseTimestamp(data[0].Timestamp); ok {
			start = ts
		}
		if ts, ok := ParseTimestamp(data[n-1].Timestamp); ok {
			end = ts
		}
	}

	return SessionMetrics{
		SessionID:         row.SessionID,
		Date:              row.Timestamp.In(loc).Format(DateLayout),
		Agent:             agent,
		ConversationCount: len(data),
		StartTime:         start.In(loc).Format(ClockLayout),
		EndTime:           end.In(loc).Format(ClockLayout),
		ConversationData:  data,
		Timestamp:         row.Timestamp,
		Start:             start,
		End:               end,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp formats written into transcripts.
// Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// AnnotationRun is one batch annotation pass, kept in the local history store.
type AnnotationRun struct {
	ID         string    `json:"id" yaml:"id"`
	Source     string    `json:"source" yaml:"source"`
	Agent      string    `json:"agent" yaml:"agent"`
	Model      string    `json:"model" yaml:"model"`
	Sessions   int       `json:"sessions" yaml:"sessions"`
	Parsed     int       `json:"parsed" yaml:"parsed"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// AnnotationResult is the annotation one run produced for one session.
type AnnotationResult struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	SessionID    string    `json:"session_id" yaml:"session_id"`
	Agent        string    `json:"agent" yaml:"agent"`
	TryCount     string    `json:"try_count" yaml:"try_count"`
	ScoreSummary string    `json:"score_summary" yaml:"score_summary"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// ResultFrom captures the annotation carried by m.
func ResultFrom(runID string, m SessionMetrics, at time.Time) AnnotationResult {
	r := AnnotationResult{RunID: runID, SessionID: m.SessionID, Agent: m.Agent, CreatedAt: at}
	if m.TryCount != nil {
		r.TryCount = *m.TryCount
	}
	if m.ScoreSummary != nil {
		r.ScoreSummary = *m.ScoreSummary
	}
	return r
}

// Failed reports whether neither field could be extracted.
func (r AnnotationResult) Failed() bool {
	return r.TryCount == NotFound && r.ScoreSummary == NotFound
}

// NewRun builds the history entry for annotated items.
func NewRun(id, source, agent, model string, started, finished time.Time, items []SessionMetrics) (AnnotationRun, []AnnotationResult) {
	run := AnnotationRun{
		ID:         id,
		Source:     source,
		Agent:      agent,
		Model:      model,
		Sessions:   len(items),
		StartedAt:  started,
		FinishedAt: finished,
	}
	results := make([]AnnotationResult, 0, len(items))
	for _, m := range items {
		r := ResultFrom(id, m, finished)
		if !r.Failed() {
			run.Parsed++
		}
		results = append(results, r)
	}
	return run, results
}
