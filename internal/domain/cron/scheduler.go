package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Executor runs one fired job's task against its session. Grounded on
// cron_tool.py's execution target: a planner turn for (task, session_id).
type Executor func(ctx context.Context, task, sessionID string) error

var standardParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRun computes the next fire time for expression after 'after'.
// Supports standard 5-field cron plus the sugar forms @hourly, @daily,
// @weekly, @every <duration> (spec §4.11).
func NextRun(expression string, after time.Time) (time.Time, error) {
	expression = strings.TrimSpace(expression)

	switch expression {
	case "@hourly":
		return after.Add(time.Hour), nil
	case "@daily":
		return after.Add(24 * time.Hour), nil
	case "@weekly":
		return after.Add(7 * 24 * time.Hour), nil
	}

	if strings.HasPrefix(expression, "@every ") {
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expression, "@every ")))
		if err != nil {
			return time.Time{}, fmt.Errorf("cron: invalid @every duration: %w", err)
		}
		return after.Add(d), nil
	}

	schedule, err := standardParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron: invalid expression %q: %w", expression, err)
	}
	return schedule.Next(after), nil
}

// Scheduler ticks at a fixed interval and fires every due, enabled
// job through the injected Executor. Grounded on cron.py's scheduler
// loop, generalized past its single-chat-id Telegram target.
type Scheduler struct {
	store    *Store
	executor Executor
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires a Scheduler to its Store. interval defaults to
// one minute if <= 0 — the granularity original_source/core/cron.py
// also used for its tick.
func NewScheduler(store *Store, executor Executor, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: store, executor: executor, interval: interval, logger: logger}
}

// Start loads persisted jobs and launches the background tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Load(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx)
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, job := range s.store.ListEnabled() {
		if job.NextRun.IsZero() || job.NextRun.After(now) {
			continue
		}
		s.fire(ctx, job, now)
	}
}

// fire runs one job's executor and reschedules it regardless of
// outcome — spec §4.11: "firing failures advance next_run anyway, no
// immediate retry".
func (s *Scheduler) fire(ctx context.Context, job Job, now time.Time) {
	err := s.executor(ctx, job.Task, job.SessionID)
	if err != nil {
		s.logger.Warn("cron: job execution failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	job.LastRun = now
	job.RunCount++
	next, nextErr := NextRun(job.Expression, now)
	if nextErr != nil {
		s.logger.Error("cron: failed to compute next run, disabling job",
			zap.String("job_id", job.ID),
			zap.Error(nextErr),
		)
		job.Enabled = false
	} else {
		job.NextRun = next
	}

	if updateErr := s.store.Update(job); updateErr != nil {
		s.logger.Error("cron: failed to persist job after firing",
			zap.String("job_id", job.ID),
			zap.Error(updateErr),
		)
	}
}

// Schedule validates expression, computes its first next_run, and
// persists a new enabled job.
func (s *Scheduler) Schedule(expression, task, sessionID string) (Job, error) {
	next, err := NextRun(expression, time.Now())
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:         "cron-" + uuid.NewString(),
		Expression: expression,
		Task:       task,
		SessionID:  sessionID,
		Enabled:    true,
		NextRun:    next,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Add(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Cancel removes a job by id.
func (s *Scheduler) Cancel(id string) (bool, error) {
	return s.store.Remove(id)
}

// List returns the jobs for one session.
func (s *Scheduler) List(sessionID string) []Job {
	var out []Job
	for _, j := range s.store.List() {
		if j.SessionID == sessionID {
			out = append(out, j)
		}
	}
	return out
}
