package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/hooks"
	_ "modernc.org/sqlite"
)

// ErrScheduleNotFound is returned when no schedule has the requested id.
var ErrScheduleNotFound = errors.New("schedule not found")

// TimelineService persists schedules, schedule leases, hook audit records
// and agent lifecycle events in one SQLite database.
type TimelineService struct {
	db  *sql.DB
	now func() time.Time

	// writeMu serializes read-modify-write transactions from this process.
	writeMu sync.Mutex
}

// NewTimelineService opens (or creates) the database at dbPath.
func NewTimelineService(dbPath string) (*TimelineService, error) {
	return OpenWithDriver("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenWithDriver opens the database with an explicit driver name and DSN.
func OpenWithDriver(driver, dsn string) (*TimelineService, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db, now: time.Now}, nil
}

func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source used for lease expiry and timestamps.
func (s *TimelineService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// RecordHookAudit stores one hook audit record.
func (s *TimelineService) RecordHookAudit(ctx context.Context, rec hooks.AuditRecord) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hook_audit (session_id, event, handler, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Event), rec.Handler, rec.Outcome, rec.Detail, toMillis(at))
	if err != nil {
		return fmt.Errorf("record hook audit: %w", err)
	}
	return nil
}

// ListHookAudit returns audit records, newest first. An empty sessionID
// lists every session.
func (s *TimelineService) ListHookAudit(ctx context.Context, sessionID string, limit int) ([]HookAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, session_id, event, handler, outcome, detail, created_at FROM hook_audit`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HookAuditEntry
	for rows.Next() {
		var e HookAuditEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Handler, &e.Outcome, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddEvent appends a lifecycle event.
func (s *TimelineService) AddEvent(ctx context.Context, evt *AgentEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (session_id, run_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		evt.SessionID, evt.RunID, evt.EventType, evt.Detail, toMillis(evt.CreatedAt))
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		evt.ID = id
	}
	return nil
}

// ListEvents returns the events of a session in insertion order.
func (s *TimelineService) ListEvents(ctx context.Context, sessionID string, limit int) ([]AgentEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, run_id, event_type, detail, created_at
		FROM agent_events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentEvent
	for rows.Next() {
		var e AgentEvent
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RunID, &e.EventType, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
