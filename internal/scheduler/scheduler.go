package scheduler

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Run results.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ErrUnknownJob is returned by RunNow for unregistered names.
var ErrUnknownJob = errors.New("unknown job")

// Func is the body of a job.
type Func func(ctx context.Context) error

// Job is a named unit of work with a standard five-field cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      Func
}

// State is the persisted bookkeeping of one job.
type State struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	NextRunAt    time.Time     `json:"next_run_at"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastStatus   string        `json:"last_status,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	RunCount     int           `json:"run_count"`
}

// Options tunes the poll loop. Now is replaceable for tests.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
}

type entry struct {
	job      Job
	schedule cron.Schedule
	mu       sync.Mutex
}

// Scheduler owns the job registry and the poll loop.
type Scheduler struct {
	db     *sqlitedb.DB
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open creates or connects to the scheduler database at path.
func Open(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Scheduler, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "scheduler", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		db:     db,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		jobs:   make(map[string]*entry),
	}, nil
}

// Close stops the loop and closes the database.
func (s *Scheduler) Close() error {
	if s == nil {
		return nil
	}
	s.Stop()
	return s.db.Close()
}

// Register adds job. A job seen for the first time, or whose schedule changed,
// gets its next due time computed from now; otherwise the stored due time is
// kept so that runs missed while stopped still happen.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Schedule = strings.TrimSpace(job.Schedule)
	if job.Name == "" || job.Run == nil {
		return errors.New("register job: name and body are required")
	}
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("register job %s: parse schedule %q: %w", job.Name, job.Schedule, err)
	}

	state, err := s.state(ctx, job.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next := schedule.Next(s.opts.Now())
		if _, err := s.db.Exec(ctx,
			"INSERT INTO job_state (name, schedule, next_run_at) VALUES (?, ?, ?)",
			job.Name, job.Schedule, sqlitedb.FormatTime(next)); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	case err != nil:
		return fmt.Errorf("register job %s: %w", job.Name, err)
	case state.Schedule != job.Schedule:
		next := schedule.Next(s.opts.Now())
		if _, err := s.db.Exec(ctx,
			"UPDATE job_state SET schedule = ?, next_run_at = ? WHERE name = ?",
			job.Schedule, sqlitedb.FormatTime(next), job.Name); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
		s.logger.Info("job schedule changed",
			logging.String("job", job.Name),
			logging.String("previous", state.Schedule),
			logging.String("schedule", job.Schedule))
	}

	s.mu.Lock()
	s.jobs[job.Name] = &entry{job: job, schedule: schedule}
	s.mu.Unlock()
	return nil
}

// Start launches the poll loop. The first poll happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(runCtx)
	s.logger.Info("scheduler started",
		logging.Int("jobs", len(s.jobs)),
		logging.Duration("poll_interval", s.opts.PollInterval))
	return nil
}

// Stop ends the poll loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "scheduler poll failed", "scheduler_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scheduler.db permissions"),
				logging.String(logging.FieldImpact, "maintenance jobs are delayed until the next poll"))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunDue runs every registered job whose due time has passed and returns the
// names that ran, in name order.
func (s *Scheduler) RunDue(ctx context.Context) ([]string, error) {
	now := s.opts.Now()
	var ran []string
	for _, e := range s.entries() {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		state, err := s.state(ctx, e.job.Name)
		if err != nil {
			return ran, fmt.Errorf("read job %s: %w", e.job.Name, err)
		}
		if state.NextRunAt.After(now) {
			continue
		}
		if err := s.execute(ctx, e); err != nil {
			return ran, err
		}
		ran = append(ran, e.job.Name)
	}
	return ran, nil
}

// RunNow runs the named job immediately. The job's own failure is returned
// after its state has been recorded.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if err := s.execute(ctx, e); err != nil {
		return err
	}
	state, err := s.state(ctx, name)
	if err != nil {
		return err
	}
	if state.LastStatus == StatusFailed {
		return fmt.Errorf("job %s: %s", name, state.LastError)
	}
	return nil
}

// execute runs one job and persists the outcome. Only bookkeeping errors are
// returned; a failing job body is logged and recorded.
func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := e.job.Name
	logger := s.logger.With(logging.String("job", name))
	started := s.opts.Now()
	begin := time.Now()
	runErr := e.job.Run(ctx)
	elapsed := time.Since(begin)

	status := StatusOK
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	if ctx.Err() != nil && runErr != nil {
		// Interrupted; the stored due time stays so it runs again.
		logger.Info("job interrupted", logging.Error(runErr))
		return nil
	}

	next := e.schedule.Next(s.opts.Now())
	if _, err := s.db.Exec(ctx,
		`UPDATE job_state SET next_run_at = ?, last_run_at = ?, last_status = ?, last_error = ?,
		 last_duration_ms = ?, run_count = run_count + 1 WHERE name = ?`,
		sqlitedb.FormatTime(next), sqlitedb.FormatTime(started), status, sqlitedb.NullableString(errText),
		elapsed.Milliseconds(), name); err != nil {
		return fmt.Errorf("record job %s: %w", name, err)
	}

	metrics.JobRuns.WithLabelValues(name, status).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if runErr != nil {
		logging.WarnWithContext(logger, "scheduled job failed", "job_failed",
			logging.Error(runErr),
			logging.String("next_run_at", sqlitedb.FormatTime(next)),
			logging.String(logging.FieldErrorHint, "inspect the job error; it runs again at its next slot"),
			logging.String(logging.FieldImpact, "maintenance skipped for this slot"))
		return nil
	}
	logger.Info("scheduled job finished",
		logging.Duration("duration", elapsed),
		logging.String("next_run_at", sqlitedb.FormatTime(next)))
	return nil
}

// States returns the bookkeeping of every persisted job, in name order.
func (s *Scheduler) States(ctx context.Context) ([]State, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, schedule, next_run_at, last_run_at, last_status, last_error, last_duration_ms, run_count
		 FROM job_state ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list job state: %w", err)
	}
	defer rows.Close()
	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Scheduler) state(ctx context.Context, name string) (*State, error) {
	var st *State
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRow(ctx,
			`SELECT name, schedule, next_run_at, last_run_at, last_status, last_error, last_duration_ms, run_count
			 FROM job_state WHERE name = ?`, name)
		var scanErr error
		st, scanErr = scanState(row)
		return scanErr
	})
	return st, err
}

func (s *Scheduler) entries() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].job.Name < out[j].job.Name })
	return out
}

func scanState(scanner sqlitedb.Scanner) (*State, error) {
	var (
		st                       State
		next                     string
		lastRun, status, lastErr sql.NullString
		durationMS               int64
	)
	if err := scanner.Scan(&st.Name, &st.Schedule, &next, &lastRun, &status, &lastErr, &durationMS, &st.RunCount); err != nil {
		return nil, err
	}
	st.NextRunAt, _ = sqlitedb.ParseTime(next)
	st.LastRunAt = sqlitedb.TimePtr(lastRun)
	st.LastStatus = status.String
	st.LastError = lastErr.String
	st.LastDuration = time.Duration(durationMS) * time.Millisecond
	return &st, nil
}
