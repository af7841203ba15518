package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/timeline"
)

// Store is the durable schedule store shared by every coordinator.
// *timeline.TimelineService implements it.
type Store interface {
	GetDueSchedules(ctx context.Context, now time.Time) ([]timeline.ScheduledCommand, error)
	AcquireScheduleLock(ctx context.Context, scheduleID, owner string, ttl time.Duration) (bool, error)
	RefreshScheduleLock(ctx context.Context, scheduleID, owner string, ttl time.Duration) (bool, error)
	ReleaseScheduleLock(ctx context.Context, scheduleID, owner string) error
	ReadSchedule(ctx context.Context, id string) (*timeline.ScheduledCommand, error)
	UpdateSchedule(ctx context.Context, id string, mutate func(*timeline.ScheduledCommand) error) (*timeline.ScheduledCommand, error)
}

// ErrRunnerBusy is returned by a Runner whose session started other work
// before the job could begin. The job stays queued with its lease.
var ErrRunnerBusy = errors.New("runner is busy")

// Runner executes a scheduled command in an agent session.
type Runner interface {
	IsRunning() bool
	RunScheduled(ctx context.Context, sc timeline.ScheduledCommand) (string, error)
}

// Config holds coordinator settings.
type Config struct {
	Enabled   bool          `json:"enabled" envconfig:"ENABLED"`
	Heartbeat time.Duration `json:"heartbeat" envconfig:"HEARTBEAT"`
	LockTTL   time.Duration `json:"lockTtl" envconfig:"LOCK_TTL"`
}

// DefaultConfig returns sensible coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Heartbeat: 30 * time.Second,
		LockTTL:   2 * time.Minute,
	}
}

// Coordinator claims due schedules and runs them in one session while that
// session is idle.
type Coordinator struct {
	cfg   Config
	store Store
	owner string
	now   func() time.Time

	mu     sync.Mutex
	runner Runner
	queue  []string
	queued map[string]bool

	// draining admits one Drain at a time.
	draining *Semaphore
}

// New creates a coordinator. owner tags every lease it takes and is
// normally the session id.
func New(cfg Config, store Store, runner Runner, owner string) *Coordinator {
	d := DefaultConfig()
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = d.Heartbeat
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = d.LockTTL
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		owner:    owner,
		now:      time.Now,
		runner:   runner,
		queued:   make(map[string]bool),
		draining: NewSemaphore(1),
	}
}

// SetRunner installs the runner when it is built after the coordinator.
func (c *Coordinator) SetRunner(r Runner) {
	c.mu.Lock()
	c.runner = r
	c.mu.Unlock()
}

// Owner returns the lease owner id.
func (c *Coordinator) Owner() string { return c.owner }

// Queued returns the ids waiting to run, in order.
func (c *Coordinator) Queued() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queue...)
}

// Run ticks every heartbeat until ctx is done. Each tick claims due
// schedules and drains the queue. On return it waits for an in-flight job.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("Schedule coordinator started", "owner", c.owner, "heartbeat", c.cfg.Heartbeat, "lock_ttl", c.cfg.LockTTL)
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	c.Tick(ctx, c.now())
	c.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			c.releaseQueued()
			waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LockTTL)
			if err := c.draining.Acquire(waitCtx); err == nil {
				c.draining.Release()
			}
			cancel()
			slog.Info("Schedule coordinator stopped", "owner", c.owner)
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx, c.now())
			c.Drain(ctx)
		}
	}
}

// Tick claims every due schedule it can lease and queues it. Schedules
// leased by another owner are skipped. It returns how many were queued.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) int {
	due, err := c.store.GetDueSchedules(ctx, now)
	if err != nil {
		slog.Warn("Failed to query due schedules", "error", err)
		return 0
	}
	added := 0
	for _, sc := range due {
		c.mu.Lock()
		already := c.queued[sc.ID]
		c.mu.Unlock()
		if already {
			continue
		}

		ok, err := c.store.AcquireScheduleLock(ctx, sc.ID, c.owner, c.cfg.LockTTL)
		if err != nil {
			slog.Warn("Schedule lock error", "schedule", sc.ID, "error", err)
			continue
		}
		if !ok {
			slog.Debug("Schedule skipped: leased elsewhere", "schedule", sc.ID)
			continue
		}

		c.mu.Lock()
		c.queue = append(c.queue, sc.ID)
		c.queued[sc.ID] = true
		c.mu.Unlock()
		added++
		slog.Info("Schedule queued", "schedule", sc.ID, "command", sc.Command)
	}
	return added
}

// Drain runs queued schedules one at a time while the runner is idle. A
// concurrent call returns immediately. It returns how many jobs ran.
func (c *Coordinator) Drain(ctx context.Context) int {
	if !c.draining.TryAcquire() {
		return 0
	}
	defer c.draining.Release()

	ran := 0
	for ctx.Err() == nil {
		c.mu.Lock()
		runner := c.runner
		if runner == nil || len(c.queue) == 0 || runner.IsRunning() {
			c.mu.Unlock()
			break
		}
		id := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.queued, id)
		c.mu.Unlock()

		if requeue := c.runJob(ctx, runner, id); requeue {
			c.requeue(id)
			break
		}
		ran++
	}
	return ran
}

// requeue puts a job that could not start back at the head of the queue.
func (c *Coordinator) requeue(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued[id] {
		return
	}
	c.queue = append([]string{id}, c.queue...)
	c.queued[id] = true
}

// runJob runs one leased schedule. It reports true when the runner was busy
// and the job should wait for the next drain; the lease is kept then.
func (c *Coordinator) runJob(ctx context.Context, runner Runner, id string) (requeue bool) {
	defer func() {
		if requeue {
			return
		}
		if err := c.store.ReleaseScheduleLock(context.WithoutCancel(ctx), id, c.owner); err != nil {
			slog.Warn("Failed to release schedule lock", "schedule", id, "error", err)
		}
	}()

	// The lease may have lapsed while the session was busy.
	if ok, err := c.store.RefreshScheduleLock(ctx, id, c.owner, c.cfg.LockTTL); err != nil || !ok {
		slog.Warn("Schedule lease lost before run", "schedule", id, "error", err)
		return false
	}
	sc, err := c.store.ReadSchedule(ctx, id)
	if err != nil {
		slog.Warn("Failed to read schedule", "schedule", id, "error", err)
		return false
	}
	if sc.Status != timeline.StatusActive {
		slog.Info("Schedule no longer active", "schedule", id, "status", sc.Status)
		return false
	}

	stopRenewal := c.renewLease(ctx, id)
	defer stopRenewal()

	slog.Info("Running scheduled command", "schedule", id, "command", sc.Command)
	startedAt := c.now()
	output, runErr := c.run(ctx, runner, *sc)
	finishedAt := c.now()
	if errors.Is(runErr, ErrRunnerBusy) {
		slog.Info("Scheduled command deferred: session busy", "schedule", id)
		return true
	}
	if runErr != nil {
		slog.Warn("Scheduled command failed", "schedule", id, "error", runErr)
	}

	updated, err := c.store.UpdateSchedule(context.WithoutCancel(ctx), id, func(s *timeline.ScheduledCommand) error {
		Advance(s, startedAt, finishedAt, output, runErr)
		return nil
	})
	if err != nil {
		slog.Warn("Failed to record schedule run", "schedule", id, "error", err)
		return false
	}
	slog.Info("Scheduled command finished", "schedule", id, "status", updated.Status, "next_run_at", updated.NextRunAt)
	return false
}

// run shields the coordinator from a panicking runner.
func (c *Coordinator) run(ctx context.Context, runner Runner, sc timeline.ScheduledCommand) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("scheduled run panicked")
			slog.Error("Scheduled run panicked", "schedule", sc.ID, "panic", r)
		}
	}()
	return runner.RunScheduled(ctx, sc)
}

// renewLease refreshes the lease every half TTL until the returned stop
// function is called. stop waits for the renewal goroutine to exit.
func (c *Coordinator) renewLease(ctx context.Context, id string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.store.RefreshScheduleLock(ctx, id, c.owner, c.cfg.LockTTL)
				if err != nil {
					slog.Warn("Schedule lease renewal failed", "schedule", id, "error", err)
				} else if !ok {
					slog.Warn("Schedule lease taken over", "schedule", id)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// releaseQueued gives up leases on jobs that never ran.
func (c *Coordinator) releaseQueued() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.queued = make(map[string]bool)
	c.mu.Unlock()

	for _, id := range pending {
		if err := c.store.ReleaseScheduleLock(context.Background(), id, c.owner); err != nil {
			slog.Warn("Failed to release schedule lock", "schedule", id, "error", err)
		}
	}
}
