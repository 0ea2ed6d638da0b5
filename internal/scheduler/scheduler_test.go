package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"boqmatch/internal/scheduler"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func openScheduler(t *testing.T, path string, c *clock) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.Open(context.Background(), path, scheduler.Options{PollInterval: 10 * time.Millisecond, Now: c.Now}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func counter(n *int) scheduler.Func {
	return func(context.Context) error {
		*n++
		return nil
	}
}

func TestRunDueHonoursSchedule(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)}
	s := openScheduler(t, filepath.Join(t.TempDir(), "scheduler.db"), c)
	ctx := context.Background()

	runs := 0
	if err := s.Register(ctx, scheduler.Job{Name: "hourly", Schedule: "0 * * * *", Run: counter(&runs)}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ran, err := s.RunDue(ctx); err != nil || len(ran) != 0 {
		t.Fatalf("nothing should be due yet, got %v, %v", ran, err)
	}

	c.Set(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
	ran, err := s.RunDue(ctx)
	if err != nil || len(ran) != 1 || ran[0] != "hourly" {
		t.Fatalf("RunDue = %v, %v", ran, err)
	}
	if ran, _ := s.RunDue(ctx); len(ran) != 0 {
		t.Fatalf("job must not run twice in one slot, got %v", ran)
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	states, err := s.States(ctx)
	if err != nil || len(states) != 1 {
		t.Fatalf("States = %v, %v", states, err)
	}
	st := states[0]
	if st.RunCount != 1 || st.LastStatus != scheduler.StatusOK || st.LastRunAt == nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if want := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC); !st.NextRunAt.Equal(want) {
		t.Fatalf("next run = %s, want %s", st.NextRunAt, want)
	}
}

func TestMissedRunHappensAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.db")
	c := &clock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	first, err := scheduler.Open(ctx, path, scheduler.Options{Now: c.Now}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Register(ctx, scheduler.Job{Name: "cleanup", Schedule: "30 3 * * *", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first.Close()

	// Down across two daily slots.
	c.Set(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))
	s := openScheduler(t, path, c)
	runs := 0
	if err := s.Register(ctx, scheduler.Job{Name: "cleanup", Schedule: "30 3 * * *", Run: counter(&runs)}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if _, err := s.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if runs != 1 {
		t.Fatalf("missed slots should collapse into one run, got %d", runs)
	}
}

func TestScheduleChangeRecomputesDueTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.db")
	c := &clock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	s := openScheduler(t, path, c)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	if err := s.Register(ctx, scheduler.Job{Name: "health", Schedule: "0 0 1 * *", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, scheduler.Job{Name: "health", Schedule: "*/15 * * * *", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	states, err := s.States(ctx)
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if want := time.Date(2026, 3, 2, 1, 15, 0, 0, time.UTC); !states[0].NextRunAt.Equal(want) {
		t.Fatalf("next run = %s, want %s", states[0].NextRunAt, want)
	}
}

func TestFailingJobIsRecorded(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	s := openScheduler(t, filepath.Join(t.TempDir(), "scheduler.db"), c)
	ctx := context.Background()

	boom := errors.New("disk full")
	if err := s.Register(ctx, scheduler.Job{Name: "broken", Schedule: "@hourly", Run: func(context.Context) error { return boom }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.RunNow(ctx, "broken"); err == nil {
		t.Fatal("RunNow should surface the job failure")
	}
	states, err := s.States(ctx)
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if states[0].LastStatus != scheduler.StatusFailed || states[0].LastError != "disk full" {
		t.Fatalf("unexpected state %+v", states[0])
	}
	if err := s.RunNow(ctx, "missing"); !errors.Is(err, scheduler.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	c := &clock{now: time.Now()}
	s := openScheduler(t, filepath.Join(t.TempDir(), "scheduler.db"), c)
	err := s.Register(context.Background(), scheduler.Job{Name: "x", Schedule: "every tuesday", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStartRunsDueJobs(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	s := openScheduler(t, filepath.Join(t.TempDir(), "scheduler.db"), c)
	ctx := context.Background()

	done := make(chan struct{}, 1)
	if err := s.Register(ctx, scheduler.Job{Name: "tick", Schedule: "* * * * *", Run: func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c.Set(c.Now().Add(2 * time.Minute))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("due job did not run")
	}
}
