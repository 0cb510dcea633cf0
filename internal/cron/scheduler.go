package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/pkg/models"
)

// ScheduleRunner is the scheduler's tick loop: every ~30s it evaluates due
// schedules, decides how many runs to fire per their missed-window policy,
// and spawns each run through the same turn orchestrator the interactive
// surfaces use. Grounded on internal/cron.Scheduler for the Option-based
// construction and ticker-driven Start/Stop shape, and on
// original_source's ScheduleRunner (schedule_runner.rs) for tick/spawn_run.
type ScheduleRunner struct {
	schedules  *ScheduleStore
	deliveries *DeliveryStore
	turn       *orchestrator.Turn
	runs       *orchestrator.RunStore
	concurrency *ConcurrencyGuard

	logger       *zap.SugaredLogger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures a ScheduleRunner.
type Option func(*ScheduleRunner)

// WithLogger overrides the runner's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *ScheduleRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *ScheduleRunner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTickInterval overrides the tick period.
func WithTickInterval(interval time.Duration) Option {
	return func(r *ScheduleRunner) {
		if interval > 0 {
			r.tickInterval = interval
		}
	}
}

// NewScheduleRunner builds a runner over the given stores and turn
// orchestrator.
func NewScheduleRunner(schedules *ScheduleStore, deliveries *DeliveryStore, turn *orchestrator.Turn, runs *orchestrator.RunStore, opts ...Option) *ScheduleRunner {
	r := &ScheduleRunner{
		schedules:   schedules,
		deliveries:  deliveries,
		turn:        turn,
		runs:        runs,
		concurrency: NewConcurrencyGuard(),
		logger:      zap.NewNop().Sugar(),
		now:         time.Now,
		tickInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the tick loop until ctx is cancelled.
func (r *ScheduleRunner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to exit.
func (r *ScheduleRunner) Stop() {
	r.wg.Wait()
}

// Tick evaluates due schedules and spawns runs. Exposed
// directly so tests and a run-now endpoint can drive it synchronously.
func (r *ScheduleRunner) Tick(ctx context.Context) {
	now := r.now()
	for _, sched := range r.schedules.DueSchedules(now) {
		loc := ParseTZ(sched.Timezone)
		n := RunsToFire(sched.MissedPolicy, sched.Cron, loc, sched.LastRunAt, now, sched.MaxCatchupRuns)
		if n == 0 {
			r.logger.Debugw("skipping missed windows", "schedule_id", sched.ID, "policy", sched.MissedPolicy)
			r.schedules.AdvanceNextRun(sched.ID, now)
			continue
		}

		for i := 0; i < n; i++ {
			if !r.concurrency.TryAcquire(sched.ID, maxInt(sched.MaxConcurrency, 1)) {
				r.logger.Warnw("concurrency limit reached, skipping", "schedule_id", sched.ID, "max", sched.MaxConcurrency)
				break
			}
			r.spawnRun(ctx, sched)
		}
	}
}

func maxInt(v, floor int) int {
	if v <= 0 {
		return floor
	}
	return v
}

// RunNow triggers an immediate run of a schedule outside its normal cron
// cadence (the /run-now control endpoint), bypassing missed-window policy
// but still honoring max_concurrency.
func (r *ScheduleRunner) RunNow(ctx context.Context, scheduleID string) error {
	sched, ok := r.schedules.Get(scheduleID)
	if !ok {
		return fmt.Errorf("schedule not found: %s", scheduleID)
	}
	if !r.concurrency.TryAcquire(sched.ID, maxInt(sched.MaxConcurrency, 1)) {
		return fmt.Errorf("schedule %s is at its concurrency limit", scheduleID)
	}
	r.spawnRun(ctx, sched)
	return nil
}

// spawnRun builds the prompt, runs a turn with session_key
// "schedule:{id}", applies the schedule's optional timeout, records
// success/failure and cooldown, and dispatches a Delivery. Grounded on
// original_source's spawn_run (schedule_runner.rs).
func (r *ScheduleRunner) spawnRun(ctx context.Context, sched *models.Schedule) {
	go func() {
		defer r.concurrency.Release(sched.ID)

		now := r.now()
		r.logger.Infow("triggering scheduled run", "schedule_id", sched.ID, "name", sched.Name)

		prompt := buildPrompt(ctx, r.schedules, sched, now)

		runID := uuid.NewString()
		sessionKey := fmt.Sprintf("schedule:%s", sched.ID)
		sessionID := fmt.Sprintf("sched-%s-%s", sched.ID, now.Format("20060102150405"))

		if r.runs != nil {
			r.runs.Create(&orchestrator.Run{ID: runID, SessionKey: sessionKey, Status: orchestrator.RunRunning, StartedAt: now})
		}
		r.schedules.RecordRunStart(sched.ID, runID, now)

		runCtx := ctx
		var cancel context.CancelFunc
		if sched.TimeoutMs != nil && *sched.TimeoutMs > 0 {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(*sched.TimeoutMs)*time.Millisecond)
			defer cancel()
		}

		finalText, isError, inputTokens, outputTokens, totalTokens := r.collectTurn(runCtx, orchestrator.TurnInput{
			SessionKey:  sessionKey,
			SessionID:   sessionID,
			UserMessage: prompt,
			Agent:       sched.AgentID,
		})

		completedAt := r.now()
		if isError {
			r.schedules.RecordFailure(sched.ID, finalText, completedAt)
			if r.runs != nil {
				r.runs.UpdateStatus(runID, orchestrator.RunFailed, finalText)
			}
		} else {
			r.schedules.RecordSuccess(sched.ID, completedAt)
			if r.runs != nil {
				r.runs.UpdateStatus(runID, orchestrator.RunCompleted, "")
			}
		}
		r.schedules.AddUsage(sched.ID, inputTokens, outputTokens)
		_ = totalTokens

		delivery := models.Delivery{
			ID:         uuid.NewString(),
			ScheduleID: sched.ID,
			RunID:      runID,
			CreatedAt:  completedAt,
			Title:      deliveryTitle(sched.Name, completedAt),
			Body:       finalText,
			Sources:    sched.Sources,
			Tokens:     models.TokenTotals{Input: inputTokens, Output: outputTokens, Total: totalTokens},
		}

		DispatchWebhooks(ctx, delivery, sched.DeliveryTargets, sched.FetchConfig.UserAgent, r.logger)
		r.deliveries.Insert(delivery)

		r.logger.Infow("scheduled run completed, delivery created", "schedule_id", sched.ID, "run_id", runID)
	}()
}

// collectTurn drains a turn's event stream, returning the final or
// timed-out/error text plus its accumulated usage.
func (r *ScheduleRunner) collectTurn(ctx context.Context, in orchestrator.TurnInput) (text string, isError bool, inputTokens, outputTokens, totalTokens int64) {
	events := r.turn.Run(ctx, in)
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventFinal:
			text = ev.Text
		case orchestrator.EventStopped:
			text = ev.Text
		case orchestrator.EventError:
			text = "Error: " + ev.Message
			isError = true
		case orchestrator.EventUsage:
			inputTokens, outputTokens, totalTokens = ev.InputTokens, ev.OutputTokens, ev.TotalTokens
		}
	}
	if ctx.Err() != nil && !isError {
		text = fmt.Sprintf("Error: schedule run timed out: %s", ctx.Err())
		isError = true
	}
	return strings.TrimSpace(text), isError, inputTokens, outputTokens, totalTokens
}
