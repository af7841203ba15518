package timeline

import (
	"time"
)

// Schema creates every table the runtime persists. Times are stored as
// unix milliseconds so both SQLite drivers read them back identically.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_commands (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	command TEXT NOT NULL,
	kind TEXT NOT NULL,
	cron_expr TEXT NOT NULL DEFAULT '',
	interval_seconds INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	next_run_at INTEGER,
	last_run_at INTEGER,
	last_result TEXT NOT NULL DEFAULT '',
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_commands(status, next_run_at);

CREATE TABLE IF NOT EXISTS schedule_locks (
	schedule_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hook_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL,
	handler TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hook_audit_session ON hook_audit(session_id);

CREATE TABLE IF NOT EXISTS agent_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_events_session ON agent_events(session_id, id);
`

// ScheduleKind distinguishes one-shot from repeating schedules.
type ScheduleKind string

const (
	ScheduleOnce      ScheduleKind = "once"
	ScheduleRecurring ScheduleKind = "recurring"
)

// ScheduleStatus is the lifecycle state of a scheduled command.
type ScheduleStatus string

const (
	StatusActive    ScheduleStatus = "active"
	StatusPaused    ScheduleStatus = "paused"
	StatusCompleted ScheduleStatus = "completed"
	StatusError     ScheduleStatus = "error"
)

// ScheduledCommand is a prompt or slash command run unattended. Recurring
// schedules carry either a cron expression or an interval.
type ScheduledCommand struct {
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	Command         string         `json:"command"`
	Kind            ScheduleKind   `json:"kind"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	Status          ScheduleStatus `json:"status"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastResult      string         `json:"last_result,omitempty"`
	RunCount        int            `json:"run_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleLock is a lease on one schedule.
type ScheduleLock struct {
	ScheduleID string    `json:"schedule_id"`
	OwnerID    string    `json:"owner_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HookAuditEntry is a stored hook audit record.
type HookAuditEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Handler   string    `json:"handler"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentEvent is one lifecycle event of an agent run.
type AgentEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id,omitempty"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
