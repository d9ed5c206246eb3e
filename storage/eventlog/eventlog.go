// Package eventlog journals committed engine events to SQLite so clients can
// page through them after the fact.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"localmoney/core/events"
	"localmoney/observability"
)

const (
	// DefaultLimit caps List when the query leaves Limit unset.
	DefaultLimit = 100
	// MaxLimit is the largest page List returns.
	MaxLimit = 1000
	// DefaultBuffer sizes a subscription channel when Subscribe is given none.
	DefaultBuffer = 64
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	trade_id   INTEGER NOT NULL DEFAULT 0,
	attributes TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_trade_idx ON events (trade_id, seq);
CREATE INDEX IF NOT EXISTS events_type_idx ON events (type, seq);
`

var errNotConfigured = errors.New("eventlog: storage is not configured")

// Record is a journaled event.
type Record struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TradeID    uint64            `json:"tradeId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Query filters List. Zero fields match everything.
type Query struct {
	Type     string
	TradeID  uint64
	AfterSeq int64
	Limit    int
}

// Store is a SQLite-backed event journal. It satisfies events.Emitter.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
}

type subscription struct {
	query Query
	ch    chan Record
}

func (q Query) matches(record Record) bool {
	if eventType := strings.TrimSpace(q.Type); eventType != "" && eventType != record.Type {
		return false
	}
	if q.TradeID != 0 && q.TradeID != record.TradeID {
		return false
	}
	return record.Seq > q.AfterSeq
}

// Open opens the journal at path and creates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("eventlog: storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		sqlDB:  sqlDB,
		logger: slog.Default(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		subs:   make(map[uint64]*subscription),
	}, nil
}

// SetLogger overrides the logger used to report journaling failures.
func (s *Store) SetLogger(logger *slog.Logger) {
	if s == nil || logger == nil {
		return
	}
	s.logger = logger
}

// SetNowFunc overrides the journal clock.
func (s *Store) SetNowFunc(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.nowFn = now
}

// Close ends every subscription and releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.mu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.sqlDB.Close()
}

// Subscribe delivers records appended after the call that match q. A
// subscriber that falls buffer records behind is dropped and its channel
// closed; it resumes by listing from the last sequence it saw. The returned
// func cancels the subscription and is safe to call more than once.
func (s *Store) Subscribe(q Query, buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscription{query: q, ch: make(chan Record, buffer)}
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]*subscription)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.subs[id]; ok && current == sub {
			close(sub.ch)
			delete(s.subs, id)
		}
	}
	return sub.ch, cancel
}

func (s *Store) publish(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if !sub.query.matches(record) {
			continue
		}
		select {
		case sub.ch <- record:
		default:
			close(sub.ch)
			delete(s.subs, id)
			if s.logger != nil {
				s.logger.Warn("event subscriber lagging, dropped", "seq", record.Seq)
			}
		}
	}
}

// Emit journals evt. Failures are logged and counted; the emitter contract
// gives the caller no way to react to them.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt); err != nil {
		observability.Events().RecordDropped(evt.EventType())
		if s != nil && s.logger != nil {
			s.logger.Error("event journal append failed", "type", evt.EventType(), "error", err)
		}
	}
}

// Append persists evt and returns the stored record.
func (s *Store) Append(ctx context.Context, evt events.Event) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Record{}, errNotConfigured
	}
	if evt == nil || strings.TrimSpace(evt.EventType()) == "" {
		return Record{}, fmt.Errorf("eventlog: event type is required")
	}
	record := Record{
		ID:         uuid.NewString(),
		Type:       evt.EventType(),
		Attributes: map[string]string{},
		CreatedAt:  s.nowFn().UTC(),
	}
	if rendered := events.Render(evt); rendered != nil && rendered.Attributes != nil {
		record.Attributes = rendered.Attributes
	}
	if raw, ok := record.Attributes["tradeId"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			record.TradeID = id
		}
	}
	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("encode attributes: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO events (
	id,
	type,
	trade_id,
	attributes,
	created_at
) VALUES (?, ?, ?, ?, ?)
`,
		record.ID,
		record.Type,
		int64(record.TradeID),
		string(attrs),
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("append event: %w", err)
	}
	if record.Seq, err = res.LastInsertId(); err != nil {
		return Record{}, fmt.Errorf("append event: %w", err)
	}
	observability.Events().RecordJournaled(record.Type)
	s.publish(record)
	return record, nil
}

// List returns journaled events in append order.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, errNotConfigured
	}
	limit := q.Limit
	switch {
	case limit < 0:
		return nil, fmt.Errorf("eventlog: limit must not be negative")
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	clauses := []string{"seq > ?"}
	args := []any{q.AfterSeq}
	if eventType := strings.TrimSpace(q.Type); eventType != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, eventType)
	}
	if q.TradeID != 0 {
		clauses = append(clauses, "trade_id = ?")
		args = append(args, int64(q.TradeID))
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	seq,
	id,
	type,
	trade_id,
	attributes,
	created_at
FROM events
WHERE `+strings.Join(clauses, " AND ")+`
ORDER BY seq ASC
LIMIT ?
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			record    Record
			tradeID   int64
			attrs     string
			createdAt int64
		)
		if err := rows.Scan(&record.Seq, &record.ID, &record.Type, &tradeID, &attrs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.TradeID = uint64(tradeID)
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(attrs), &record.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}
