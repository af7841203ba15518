package timeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/agentcore/internal/hooks"
	_ "github.com/mattn/go-sqlite3"
)

func newTestTimeline(t *testing.T) *TimelineService {
	t.Helper()
	svc, err := NewTimelineService(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func newMattnTimeline(t *testing.T) *TimelineService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.db")
	svc, err := OpenWithDriver("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func forEachDriver(t *testing.T, fn func(t *testing.T, svc *TimelineService)) {
	t.Run("modernc", func(t *testing.T) { fn(t, newTestTimeline(t)) })
	t.Run("mattn", func(t *testing.T) { fn(t, newMattnTimeline(t)) })
}

func TestScheduleCRUD(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *TimelineService) {
		ctx := context.Background()
		next := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		sc := &ScheduledCommand{Name: "digest", Command: "/digest", Kind: ScheduleRecurring, CronExpr: "0 9 * * *", NextRunAt: &next}
		if err := svc.CreateSchedule(ctx, sc); err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
		if sc.ID == "" || sc.Status != StatusActive {
			t.Fatalf("defaults not applied: %+v", sc)
		}

		got, err := svc.ReadSchedule(ctx, sc.ID)
		if err != nil {
			t.Fatalf("ReadSchedule: %v", err)
		}
		if got.Command != "/digest" || got.CronExpr != "0 9 * * *" || got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
			t.Fatalf("unexpected schedule: %+v", got)
		}
		if got.LastRunAt != nil {
			t.Fatal("last run should be unset")
		}

		updated, err := svc.UpdateSchedule(ctx, sc.ID, func(s *ScheduledCommand) error {
			s.Status = StatusPaused
			s.RunCount++
			return nil
		})
		if err != nil || updated.Status != StatusPaused || updated.RunCount != 1 {
			t.Fatalf("UpdateSchedule: %+v, %v", updated, err)
		}

		list, err := svc.ListSchedules(ctx)
		if err != nil || len(list) != 1 || list[0].Status != StatusPaused {
			t.Fatalf("ListSchedules: %+v, %v", list, err)
		}

		if err := svc.DeleteSchedule(ctx, sc.ID); err != nil {
			t.Fatalf("DeleteSchedule: %v", err)
		}
		if _, err := svc.ReadSchedule(ctx, sc.ID); !errors.Is(err, ErrScheduleNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := svc.DeleteSchedule(ctx, sc.ID); !errors.Is(err, ErrScheduleNotFound) {
			t.Fatalf("second delete should report not found, got %v", err)
		}
	})
}

func TestUpdateScheduleMutatorErrorRollsBack(t *testing.T) {
	svc := newTestTimeline(t)
	ctx := context.Background()
	sc := &ScheduledCommand{Command: "hello"}
	if err := svc.CreateSchedule(ctx, sc); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if _, err := svc.UpdateSchedule(ctx, sc.ID, func(s *ScheduledCommand) error {
		s.Command = "changed"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := svc.ReadSchedule(ctx, sc.ID)
	if got.Command != "hello" {
		t.Fatalf("update should have rolled back, got %q", got.Command)
	}
}

func TestGetDueSchedules(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *TimelineService) {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		past := now.Add(-time.Minute)
		earlier := now.Add(-time.Hour)
		future := now.Add(time.Minute)

		mk := func(cmd string, next *time.Time, status ScheduleStatus) {
			if err := svc.CreateSchedule(ctx, &ScheduledCommand{Command: cmd, NextRunAt: next, Status: status}); err != nil {
				t.Fatal(err)
			}
		}
		mk("due", &past, StatusActive)
		mk("due-earlier", &earlier, StatusActive)
		mk("exact", &now, StatusActive)
		mk("future", &future, StatusActive)
		mk("paused", &past, StatusPaused)
		mk("done", &past, StatusCompleted)
		mk("unscheduled", nil, StatusActive)

		due, err := svc.GetDueSchedules(ctx, now)
		if err != nil {
			t.Fatalf("GetDueSchedules: %v", err)
		}
		var cmds []string
		for _, d := range due {
			cmds = append(cmds, d.Command)
		}
		if len(cmds) != 3 || cmds[0] != "due-earlier" || cmds[1] != "due" || cmds[2] != "exact" {
			t.Fatalf("unexpected due list: %v", cmds)
		}
	})
}

func TestScheduleLockLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *TimelineService) {
		ctx := context.Background()
		clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		svc.SetClock(clock.Now)
		ttl := 30 * time.Second

		ok, err := svc.AcquireScheduleLock(ctx, "s1", "alpha", ttl)
		if err != nil || !ok {
			t.Fatalf("first acquire: %v, %v", ok, err)
		}
		if ok, _ := svc.AcquireScheduleLock(ctx, "s1", "beta", ttl); ok {
			t.Fatal("live lease must block another owner")
		}
		if ok, _ := svc.AcquireScheduleLock(ctx, "s1", "alpha", ttl); ok {
			t.Fatal("lease is not reentrant")
		}

		// a non-owner cannot refresh or release
		if ok, _ := svc.RefreshScheduleLock(ctx, "s1", "beta", ttl); ok {
			t.Fatal("non-owner refresh should fail")
		}
		if err := svc.ReleaseScheduleLock(ctx, "s1", "beta"); err != nil {
			t.Fatal(err)
		}
		if l, _ := svc.GetScheduleLock(ctx, "s1"); l == nil || l.OwnerID != "alpha" {
			t.Fatalf("non-owner release removed the lease: %+v", l)
		}

		clock.Advance(20 * time.Second)
		if ok, _ := svc.RefreshScheduleLock(ctx, "s1", "alpha", ttl); !ok {
			t.Fatal("owner refresh should succeed")
		}
		clock.Advance(20 * time.Second)
		if ok, _ := svc.AcquireScheduleLock(ctx, "s1", "beta", ttl); ok {
			t.Fatal("refreshed lease should still be live")
		}

		clock.Advance(time.Minute)
		ok, err = svc.AcquireScheduleLock(ctx, "s1", "beta", ttl)
		if err != nil || !ok {
			t.Fatalf("expired lease should be taken over: %v, %v", ok, err)
		}
		if ok, _ := svc.RefreshScheduleLock(ctx, "s1", "alpha", ttl); ok {
			t.Fatal("previous owner lost the lease")
		}

		if err := svc.ReleaseScheduleLock(ctx, "s1", "beta"); err != nil {
			t.Fatal(err)
		}
		if l, _ := svc.GetScheduleLock(ctx, "s1"); l != nil {
			t.Fatalf("lease should be gone: %+v", l)
		}
	})
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *TimelineService) {
		ctx := context.Background()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := svc.AcquireScheduleLock(ctx, "shared", string(rune('a'+i)), time.Minute)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins.Load())
		}
	})
}

func TestHookAuditAndEvents(t *testing.T) {
	svc := newTestTimeline(t)
	ctx := context.Background()

	var sink hooks.AuditSink = svc
	if err := sink.RecordHookAudit(ctx, hooks.AuditRecord{SessionID: "s1", Event: hooks.PreToolUse, Handler: "command: guard.sh", Outcome: "deny", Detail: "rm"}); err != nil {
		t.Fatalf("RecordHookAudit: %v", err)
	}
	_ = sink.RecordHookAudit(ctx, hooks.AuditRecord{SessionID: "s2", Event: hooks.Stop, Handler: "prompt", Outcome: "disabled"})

	all, err := svc.ListHookAudit(ctx, "", 10)
	if err != nil || len(all) != 2 || all[0].SessionID != "s2" {
		t.Fatalf("ListHookAudit: %+v, %v", all, err)
	}
	one, _ := svc.ListHookAudit(ctx, "s1", 10)
	if len(one) != 1 || one[0].Outcome != "deny" || one[0].Event != string(hooks.PreToolUse) {
		t.Fatalf("filtered audit: %+v", one)
	}

	for _, typ := range []string{"turn_start", "text", "done"} {
		if err := svc.AddEvent(ctx, &AgentEvent{SessionID: "s1", RunID: "r1", EventType: typ}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := svc.ListEvents(ctx, "s1", 0)
	if err != nil || len(events) != 3 || events[0].EventType != "turn_start" || events[2].EventType != "done" {
		t.Fatalf("ListEvents: %+v, %v", events, err)
	}
}
