package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

type fakeSource struct {
	mu       sync.Mutex
	pingErr  error
	sessions map[string][]models.SessionRow
	tracking map[string][]models.TrackingRecord
	failing  map[string]bool
	queried  []string
	lastSort [2]string
}

func (f *fakeSource) Ping(context.Context) error { return f.pingErr }

func (f *fakeSource) QuerySessions(_ context.Context, table string) ([]models.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, table)
	if f.failing[table] {
		return nil, errors.New("relation does not exist")
	}
	return f.sessions[table], nil
}

func (f *fakeSource) QueryTracking(_ context.Context, table, sortBy, order string) ([]models.TrackingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, table)
	f.lastSort = [2]string{sortBy, order}
	if f.failing[table] {
		return nil, errors.New("relation does not exist")
	}
	out := make([]models.TrackingRecord, len(f.tracking[table]))
	copy(out, f.tracking[table])
	return out, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]registry.TableSpec{
		{TableName: "t1", AgentLabel: "Block 3"},
		{TableName: "t2", AgentLabel: "Block 5"},
		{TableName: "t3", AgentLabel: "Block 9"},
	})
	require.NoError(t, err)
	return r
}

func at(hour int) time.Time {
	return time.Date(2025, 1, 15, hour, 0, 0, 0, time.UTC)
}

func row(id string, hour int) models.SessionRow {
	return models.SessionRow{
		SessionID: id,
		Timestamp: at(hour),
		ConversationData: models.Transcript{
			{Question: "q", Response: "r", Timestamp: at(hour).Format(time.RFC3339)},
		},
	}
}

func TestAggregate_MergesNewestFirst(t *testing.T) {
	src := &fakeSource{sessions: map[string][]models.SessionRow{
		"t1": {row("a", 9), row("b", 12)},
		"t2": {row("c", 10)},
		"t3": {row("d", 11)},
	}}
	agg := New(src, testRegistry(t), Options{})

	got, err := agg.Sessions(context.Background(), registry.AllAgents)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.SessionID
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)
	assert.Equal(t, "Block 3", got[0].Agent)
	assert.Equal(t, "Block 9", got[1].Agent)
}

func TestAggregate_OneTableFailureKeepsOthers(t *testing.T) {
	src := &fakeSource{
		sessions: map[string][]models.SessionRow{
			"t1": {row("a", 9)},
			"t3": {row("d", 11)},
		},
		failing: map[string]bool{"t2": true},
	}
	agg := New(src, testRegistry(t), Options{FanOut: 1})

	got, err := agg.Sessions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].SessionID)
	assert.Equal(t, "a", got[1].SessionID)
	assert.Len(t, src.queried, 3)
}

func TestAggregate_AllTablesFailIsEmptyNotError(t *testing.T) {
	src := &fakeSource{failing: map[string]bool{"t1": true, "t2": true, "t3": true}}
	got, err := New(src, testRegistry(t), Options{}).Sessions(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAggregate_PingFailure(t *testing.T) {
	src := &fakeSource{pingErr: errors.New("connection refused")}
	_, err := New(src, testRegistry(t), Options{}).Sessions(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, src.queried)
}

func TestAggregate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeSource{}, testRegistry(t), Options{}).Sessions(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate_AgentFilterSkipsTables(t *testing.T) {
	src := &fakeSource{sessions: map[string][]models.SessionRow{"t2": {row("c", 10)}}}
	got, err := New(src, testRegistry(t), Options{}).Sessions(context.Background(), "Block 5")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"t2"}, src.queried)
}

func int64p(v int64) *int64 { return &v }

func TestTracking(t *testing.T) {
	src := &fakeSource{
		tracking: map[string][]models.TrackingRecord{
			"t1": {{ID: int64p(1), SessionID: "a", Timestamp: at(9)}},
			"t2": {{ID: int64p(5), SessionID: "b", Timestamp: at(8)}},
			"t3": {{ID: int64p(3), SessionID: "c", Timestamp: at(10)}},
		},
	}
	agg := New(src, testRegistry(t), Options{})

	res, err := agg.Tracking(context.Background(), TrackingQuery{SortBy: "id", Order: "asc"})
	require.NoError(t, err)

	var ids []string
	for _, r := range res.Records {
		ids = append(ids, r.SessionID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, ids)
	assert.Equal(t, "Block 5", res.Records[2].Agent)
	assert.Equal(t, [2]string{"id", "ASC"}, src.lastSort)
	assert.Equal(t, []string{"Block 3", "Block 5", "Block 9"}, res.Agents)
}

func TestTracking_AgentFilterAndFailure(t *testing.T) {
	src := &fakeSource{
		tracking: map[string][]models.TrackingRecord{
			"t1": {{SessionID: "a", Timestamp: at(9)}},
		},
		failing: map[string]bool{"t1": true},
	}
	res, err := New(src, testRegistry(t), Options{}).Tracking(context.Background(), TrackingQuery{Agent: "Block 3"})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, []string{"t1"}, src.queried)
	assert.Len(t, res.Agents, 3)
}

func TestSortTracking(t *testing.T) {
	records := []models.TrackingRecord{
		{SessionID: "nil-id", Timestamp: at(7)},
		{ID: int64p(2), SessionID: "two", Timestamp: at(9)},
		{ID: int64p(1), SessionID: "one", Timestamp: at(9)},
	}

	byID := append([]models.TrackingRecord(nil), records...)
	SortTracking(byID, "id", "DESC")
	assert.Equal(t, []string{"two", "one", "nil-id"}, sessionIDs(byID))

	byTime := append([]models.TrackingRecord(nil), records...)
	SortTracking(byTime, "timestamp", "DESC")
	if diff := cmp.Diff([]string{"two", "one", "nil-id"}, sessionIDs(byTime)); diff != "" {
		t.Errorf("stable timestamp sort mismatch (-want +got):\n%s", diff)
	}

	SortTracking(byTime, "timestamp", "ASC")
	assert.Equal(t, []string{"nil-id", "two", "one"}, sessionIDs(byTime))
}

func sessionIDs(records []models.TrackingRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SessionID
	}
	return out
}
