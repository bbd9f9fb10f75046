package export

import (
	"io"
	"time"

	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

// UnknownAgent labels records that carry no agent.
const UnknownAgent = "Unknown"

// LocalLayout renders the "(Local)" columns of the tracking CSV.
const LocalLayout = "1/2/2006, 3:04:05 PM"

var trackingHeader = []string{
	"Session Date (Local)", "Session Date (UTC)", "Session ID", "Agent",
	"Question", "Response", "Timestamp (Local)", "Timestamp (UTC)",
}

type trackingSession struct {
	SessionID        string                     `json:"session_id"`
	Timestamp        string                     `json:"timestamp"`
	Agent            string                     `json:"agent"`
	ConversationData []models.ConversationEntry `json:"conversation_data"`
}

// TrackingCSV writes one row per transcript message. Local columns use loc.
func TrackingCSV(records []models.TrackingRecord, loc *time.Location, w io.Writer) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := newQuotedWriter(w)
	cw.header(trackingHeader)
	for _, r := range records {
		sessionUTC := r.Timestamp.UTC().Format(time.RFC3339Nano)
		sessionLocal := r.Timestamp.In(loc).Format(LocalLayout)
		for _, e := range r.ConversationData {
			msgLocal := e.Timestamp
			if ts, ok := models.ParseTimestamp(e.Timestamp); ok {
				msgLocal = ts.In(loc).Format(LocalLayout)
			}
			cw.write([]string{
				sessionLocal, sessionUTC, r.SessionID, agentOrUnknown(r.Agent),
				e.Question, e.Response, msgLocal, e.Timestamp,
			})
		}
	}
	return cw.err
}

// TrackingJSON writes one object per session with its transcript.
func TrackingJSON(records []models.TrackingRecord, w io.Writer) error {
	out := make([]trackingSession, 0, len(records))
	for _, r := range records {
		data := []models.ConversationEntry(r.ConversationData)
		if data == nil {
			data = []models.ConversationEntry{}
		}
		out = append(out, trackingSession{
			SessionID:        r.SessionID,
			Timestamp:        r.Timestamp.UTC().Format(time.RFC3339Nano),
			Agent:            agentOrUnknown(r.Agent),
			ConversationData: data,
		})
	}
	return writeJSON(w, out)
}

func agentOrUnknown(agent string) string {
	if agent == "" {
		return UnknownAgent
	}
	return agent
}
