// Package view filters and orders aggregated sessions for display. Every
// function is pure: inputs are never mutated and equal inputs give equal
// output order.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

type SortField string

const (
	SortDate              SortField = "date"
	SortAgent             SortField = "agent"
	SortConversationCount SortField = "conversation_count"
	SortStartTime         SortField = "start_time"
	SortEndTime           SortField = "end_time"
	SortDuration          SortField = "duration"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

var sortFields = []SortField{SortDate, SortAgent, SortConversationCount, SortStartTime, SortEndTime, SortDuration}

// ParseSortField accepts a field name case-insensitively. Empty means date.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortDate, nil
	}
	for _, f := range sortFields {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid sort field %q", s)
}

// ParseSortOrder accepts asc or desc case-insensitively. Empty means desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "", string(Desc):
		return Desc, nil
	case string(Asc):
		return Asc, nil
	}
	return "", fmt.Errorf("invalid sort order %q", s)
}

// SortState is the column-header sort selection.
type SortState struct {
	Field SortField
	Order SortOrder
}

// DefaultSort is newest date first.
var DefaultSort = SortState{Field: SortDate, Order: Desc}

// Toggle flips the order when field is already selected and otherwise
// selects field descending.
func (s SortState) Toggle(field SortField) SortState {
	if s.Field == field {
		if s.Order == Asc {
			return SortState{Field: field, Order: Desc}
		}
		return SortState{Field: field, Order: Asc}
	}
	return SortState{Field: field, Order: Desc}
}

// Present returns the items for agent (every item for "all" or empty),
// stably sorted by field in order.
func Present(items []models.SessionMetrics, agent string, field SortField, order SortOrder) []models.SessionMetrics {
	out := make([]models.SessionMetrics, 0, len(items))
	for _, m := range items {
		if agent == "" || agent == registry.AllAgents || m.Agent == agent {
			out = append(out, m)
		}
	}

	cmp := comparator(field)
	sort.SliceStable(out, func(i, j int) bool {
		c := cmp(out[i], out[j])
		if order == Asc {
			return c < 0
		}
		return c > 0
	})
	return out
}

func comparator(field SortField) func(a, b models.SessionMetrics) int {
	switch field {
	case SortAgent:
		return func(a, b models.SessionMetrics) int { return strings.Compare(a.Agent, b.Agent) }
	case SortConversationCount:
		return func(a, b models.SessionMetrics) int { return compareInt64(int64(a.ConversationCount), int64(b.ConversationCount)) }
	case SortStartTime:
		return func(a, b models.SessionMetrics) int {
			return compareInt64(int64(clockOffset(a.StartTime)), int64(clockOffset(b.StartTime)))
		}
	case SortEndTime:
		return func(a, b models.SessionMetrics) int {
			return compareInt64(int64(clockOffset(a.EndTime)), int64(clockOffset(b.EndTime)))
		}
	case SortDuration:
		return func(a, b models.SessionMetrics) int { return compareInt64(int64(Duration(a)), int64(Duration(b))) }
	default:
		return func(a, b models.SessionMetrics) int { return compareInt64(dateKey(a), dateKey(b)) }
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// dateKey orders by the displayed calendar date. Rows whose date does not
// parse fall back to their row timestamp.
func dateKey(m models.SessionMetrics) int64 {
	if d, err := time.Parse(models.DateLayout, m.Date); err == nil {
		return d.Unix()
	}
	return m.Timestamp.Unix()
}

// clockOffset is the time since midnight of a displayed clock time. An
// unparseable value counts as midnight.
func clockOffset(clock string) time.Duration {
	t, err := time.Parse(models.ClockLayout, clock)
	if err != nil {
		return 0
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// Duration is end clock time minus start clock time on the same day.
// Sessions that cross midnight come out negative.
func Duration(m models.SessionMetrics) time.Duration {
	return clockOffset(m.EndTime) - clockOffset(m.StartTime)
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%s%dh %dm %ds", sign, h, m, s)
	case m > 0:
		return fmt.Sprintf("%s%dm %ds", sign, m, s)
	}
	return fmt.Sprintf("%s%ds", sign, s)
}

// Search keeps items whose session id, or any question or response,
// contains term case-insensitively. An empty term keeps everything.
func Search(items []models.SessionMetrics, term string) []models.SessionMetrics {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.SessionMetrics, 0, len(items))
	for _, m := range items {
		if term == "" || matches(m.SessionID, m.ConversationData, term) {
			out = append(out, m)
		}
	}
	return out
}

// SearchTracking applies Search's rule to detail records.
func SearchTracking(records []models.TrackingRecord, term string) []models.TrackingRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.TrackingRecord, 0, len(records))
	for _, r := range records {
		if term == "" || matches(r.SessionID, r.ConversationData, term) {
			out = append(out, r)
		}
	}
	return out
}

func matches(sessionID string, data models.Transcript, term string) bool {
	if strings.Contains(strings.ToLower(sessionID), term) {
		return true
	}
	for _, e := range data {
		if strings.Contains(strings.ToLower(e.Question), term) ||
			strings.Contains(strings.ToLower(e.Response), term) {
			return true
		}
	}
	return false
}
