package cron

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNextRun_SugarForms(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Duration
	}{
		{"@hourly", time.Hour},
		{"@daily", 24 * time.Hour},
		{"@weekly", 7 * 24 * time.Hour},
		{"@every 5m", 5 * time.Minute},
	}
	for _, c := range cases {
		got, err := NextRun(c.expr, base)
		if err != nil {
			t.Fatalf("%s: %v", c.expr, err)
		}
		if !got.Equal(base.Add(c.want)) {
			t.Fatalf("%s: expected %v, got %v", c.expr, base.Add(c.want), got)
		}
	}
}

func TestNextRun_StandardFiveField(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 59, 0, 0, time.UTC)
	got, err := NextRun("0 9 * * *", base)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRun_InvalidExpressionErrors(t *testing.T) {
	if _, err := NextRun("not a cron expr", time.Now()); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
}

func TestScheduler_FiresDueJobAndReschedules(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "jobs.json"))
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var fired int32
	executor := func(ctx context.Context, task, sessionID string) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}

	sched := NewScheduler(store, executor, 10*time.Millisecond, zap.NewNop())
	job, err := sched.Schedule("@every 1ms", "say hi", "sess-1")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Force it due immediately rather than waiting on @every 1ms.
	j, _ := store.Get(job.ID)
	j.NextRun = time.Now().Add(-time.Second)
	store.Update(j)

	sched.runDue(context.Background(), time.Now())

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected executor to fire once, fired=%d", fired)
	}
	updated, ok := store.Get(job.ID)
	if !ok {
		t.Fatalf("job missing after fire")
	}
	if updated.RunCount != 1 {
		t.Fatalf("expected run_count=1, got %d", updated.RunCount)
	}
	if !updated.NextRun.After(time.Now()) {
		t.Fatalf("expected next_run to be rescheduled into the future")
	}
}

func TestScheduler_FailingExecutorStillReschedules(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "jobs.json"))
	store.Load()

	executor := func(ctx context.Context, task, sessionID string) error {
		return errors.New("boom")
	}
	sched := NewScheduler(store, executor, time.Minute, zap.NewNop())
	job, err := sched.Schedule("@hourly", "t", "sess-2")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	j, _ := store.Get(job.ID)
	j.NextRun = time.Now().Add(-time.Second)
	store.Update(j)

	sched.runDue(context.Background(), time.Now())

	updated, _ := store.Get(job.ID)
	if updated.RunCount != 1 {
		t.Fatalf("expected run_count to advance despite failure, got %d", updated.RunCount)
	}
	if !updated.Enabled {
		t.Fatalf("expected job to remain enabled after an executor failure (only next_run parse failure disables)")
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	store := NewStore(path)
	store.Load()
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected Get to report absent for an unknown id")
	}

	sched := NewScheduler(store, func(ctx context.Context, task, sessionID string) error { return nil }, time.Minute, zap.NewNop())
	job, err := sched.Schedule("@daily", "backup", "sess-3")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get(job.ID)
	if !ok || got.Task != "backup" {
		t.Fatalf("expected job to survive reload, got %+v ok=%v", got, ok)
	}
}
