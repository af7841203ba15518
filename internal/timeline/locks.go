package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireScheduleLock takes the lease on a schedule for owner. It succeeds
// when no lease exists or the existing one has expired; a live lease held
// by anyone, owner included, makes it return false.
func (s *TimelineService) AcquireScheduleLock(ctx context.Context, scheduleID, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_locks (schedule_id, owner_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET owner_id = excluded.owner_id, expires_at = excluded.expires_at
		WHERE schedule_locks.expires_at <= ?`,
		scheduleID, owner, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("acquire schedule lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RefreshScheduleLock extends a lease held by owner. It reports false when
// owner no longer holds it.
func (s *TimelineService) RefreshScheduleLock(ctx context.Context, scheduleID, owner string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_locks SET expires_at = ? WHERE schedule_id = ? AND owner_id = ?`,
		toMillis(s.now().Add(ttl)), scheduleID, owner)
	if err != nil {
		return false, fmt.Errorf("refresh schedule lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseScheduleLock drops the lease if owner holds it. Releasing a lease
// held by someone else is a no-op.
func (s *TimelineService) ReleaseScheduleLock(ctx context.Context, scheduleID, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedule_locks WHERE schedule_id = ? AND owner_id = ?`, scheduleID, owner); err != nil {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}

// GetScheduleLock returns the current lease, or nil when none is stored.
func (s *TimelineService) GetScheduleLock(ctx context.Context, scheduleID string) (*ScheduleLock, error) {
	var l ScheduleLock
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT schedule_id, owner_id, expires_at FROM schedule_locks WHERE schedule_id = ?`, scheduleID).
		Scan(&l.ScheduleID, &l.OwnerID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.ExpiresAt = fromMillis(expires)
	return &l, nil
}
