package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
	"github.com/acolyte-tracking/dashboard/pkg/retry"
)

const (
	SortByTimestamp = "timestamp"
	SortByID        = "id"
	OrderAsc        = "ASC"
	OrderDesc       = "DESC"
)

// Client is a read-only view over the tracking tables.
type Client struct {
	db *sql.DB
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnectAttempts int
}

// NewClient opens the pool and waits for the database to answer a ping.
func NewClient(ctx context.Context, url string, opts Options) (*Client, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	rc := retry.DefaultConfig("postgres ping")
	if opts.ConnectAttempts > 0 {
		rc.MaxAttempts = opts.ConnectAttempts
	}
	rc.Logger = logger.GetLogger()
	ping := func(ctx context.Context) error {
		err := db.PingContext(ctx)
		if permanentConnectError(err) {
			return retry.Permanent(err)
		}
		return err
	}
	if err := retry.Do(ctx, rc, ping); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger.Info("Postgres client initialized",
		zap.Int("max_open_conns", opts.MaxOpenConns))

	return &Client{db: db}, nil
}

// permanentConnectError reports failures a retry cannot fix: bad
// credentials or a database that does not exist.
func permanentConnectError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "28", "3D":
		return true
	}
	return false
}

// NewFromDB wraps an existing pool.
func NewFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// QuerySessions returns every row of table, newest first.
func (c *Client) QuerySessions(ctx context.Context, table string) ([]models.SessionRow, error) {
	query := fmt.Sprintf(
		"SELECT session_id, timestamp, conversation_data FROM %s ORDER BY timestamp DESC",
		registry.QuoteIdent(table))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.SessionRow
	for rows.Next() {
		var (
			row       models.SessionRow
			sessionID sql.NullString
		)
		if err := rows.Scan(&sessionID, &row.Timestamp, &row.ConversationData); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row.SessionID = sessionID.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// QueryTracking returns every column of every row of table. sortBy and
// order are normalised to the allowed values before reaching SQL.
func (c *Client) QueryTracking(ctx context.Context, table, sortBy, order string) ([]models.TrackingRecord, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s %s",
		registry.QuoteIdent(table), NormalizeSortBy(sortBy), NormalizeOrder(order))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	var out []models.TrackingRecord
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec, err := recordFromColumns(cols, vals)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// NormalizeSortBy maps anything other than "id" to "timestamp".
func NormalizeSortBy(s string) string {
	if strings.EqualFold(s, SortByID) {
		return SortByID
	}
	return SortByTimestamp
}

// NormalizeOrder maps anything other than "asc" to "DESC".
func NormalizeOrder(s string) string {
	if strings.EqualFold(s, OrderAsc) {
		return OrderAsc
	}
	return OrderDesc
}

func recordFromColumns(cols []string, vals []any) (models.TrackingRecord, error) {
	var rec models.TrackingRecord
	for i, col := range cols {
		v := vals[i]
		switch col {
		case "id":
			id, ok := toInt64(v)
			if ok {
				rec.ID = &id
			}
		case "session_id":
			rec.SessionID = toString(v)
		case "timestamp":
			ts, err := toTime(v)
			if err != nil {
				return rec, err
			}
			rec.Timestamp = ts
		case "conversation_data":
			if err := rec.ConversationData.Scan(v); err != nil {
				return rec, err
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[col] = extraValue(v)
		}
	}
	if rec.ConversationData == nil {
		rec.ConversationData = models.Transcript{}
	}
	return rec, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		id, err := strconv.ParseInt(string(n), 10, 64)
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case []byte:
		if ts, ok := models.ParseTimestamp(string(t)); ok {
			return ts, nil
		}
	case string:
		if ts, ok := models.ParseTimestamp(t); ok {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unsupported value %v", v)
}

// extraValue keeps JSON documents structured and turns other byte columns
// into text.
func extraValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(string(b))
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}
