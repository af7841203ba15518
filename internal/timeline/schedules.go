package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const scheduleColumns = `id, name, command, kind, cron_expr, interval_seconds, status,
	next_run_at, last_run_at, last_result, run_count, created_at, updated_at`

// CreateSchedule inserts a schedule. An empty ID is filled with a uuid and
// an empty status defaults to active.
func (s *TimelineService) CreateSchedule(ctx context.Context, sc *ScheduledCommand) error {
	if sc.Command == "" {
		return fmt.Errorf("schedule command is required")
	}
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if sc.Status == "" {
		sc.Status = StatusActive
	}
	if sc.Kind == "" {
		sc.Kind = ScheduleOnce
	}
	now := s.now()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_commands (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Command, string(sc.Kind), sc.CronExpr, sc.IntervalSeconds, string(sc.Status),
		nullableMillis(sc.NextRunAt), nullableMillis(sc.LastRunAt), sc.LastResult, sc.RunCount,
		toMillis(sc.CreatedAt), toMillis(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// ReadSchedule returns one schedule or ErrScheduleNotFound.
func (s *TimelineService) ReadSchedule(ctx context.Context, id string) (*ScheduledCommand, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_commands WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return sc, err
}

// ListSchedules returns every schedule ordered by creation time.
func (s *TimelineService) ListSchedules(ctx context.Context) ([]ScheduledCommand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_commands ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// GetDueSchedules returns active schedules whose next run is at or before
// now, earliest first.
func (s *TimelineService) GetDueSchedules(ctx context.Context, now time.Time) ([]ScheduledCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_commands
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC`, string(StatusActive), toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DeleteSchedule removes a schedule and any lease on it.
func (s *TimelineService) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM schedule_locks WHERE schedule_id = ?`, id)
	return nil
}

// UpdateSchedule reads a schedule, applies mutate and writes it back in one
// transaction. The mutated copy is returned.
func (s *TimelineService) UpdateSchedule(ctx context.Context, id string, mutate func(*ScheduledCommand) error) (*ScheduledCommand, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	sc, err := scanSchedule(tx.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_commands WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := mutate(sc); err != nil {
		return nil, err
	}
	sc.ID = id
	sc.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, `
		UPDATE scheduled_commands SET name = ?, command = ?, kind = ?, cron_expr = ?, interval_seconds = ?,
			status = ?, next_run_at = ?, last_run_at = ?, last_result = ?, run_count = ?, updated_at = ?
		WHERE id = ?`,
		sc.Name, sc.Command, string(sc.Kind), sc.CronExpr, sc.IntervalSeconds, string(sc.Status),
		nullableMillis(sc.NextRunAt), nullableMillis(sc.LastRunAt), sc.LastResult, sc.RunCount,
		toMillis(sc.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit schedule: %w", err)
	}
	return sc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*ScheduledCommand, error) {
	var sc ScheduledCommand
	var kind, status string
	var next, last sql.NullInt64
	var created, updated int64
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Command, &kind, &sc.CronExpr, &sc.IntervalSeconds, &status,
		&next, &last, &sc.LastResult, &sc.RunCount, &created, &updated); err != nil {
		return nil, err
	}
	sc.Kind = ScheduleKind(kind)
	sc.Status = ScheduleStatus(status)
	sc.NextRunAt = timePtr(next)
	sc.LastRunAt = timePtr(last)
	sc.CreatedAt = fromMillis(created)
	sc.UpdatedAt = fromMillis(updated)
	return &sc, nil
}

func scanSchedules(rows *sql.Rows) ([]ScheduledCommand, error) {
	var out []ScheduledCommand
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}
