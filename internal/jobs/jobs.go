package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/config"
	"boqmatch/internal/kb"
	"boqmatch/internal/logging"
	"boqmatch/internal/notifications"
	"boqmatch/internal/preflight"
	"boqmatch/internal/scheduler"
)

// Job names as persisted by the scheduler.
const (
	NameAutoApprove = "auto_approve"
	NameKBCleanup   = "kb_cleanup"
	NameHealthCheck = "health_check"
)

// relatedMinShared is how many shared project contexts make two codes related.
const relatedMinShared = 2

// CleanupReport is the outcome of one cleanup run.
type CleanupReport struct {
	kb.CleanupResult
	LearnedRelations int `json:"learned_relations"`
}

// Runner executes the maintenance jobs against the stores.
type Runner struct {
	cfg      *config.Config
	catalog  *catalog.Store
	kb       *kb.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Runner.
func New(cfg *config.Config, catalogStore *catalog.Store, kbStore *kb.Store, logger *slog.Logger) (*Runner, error) {
	if cfg == nil || catalogStore == nil || kbStore == nil {
		return nil, errors.New("jobs require config, catalog and kb stores")
	}
	return &Runner{
		cfg:      cfg,
		catalog:  catalogStore,
		kb:       kbStore,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "jobs"),
		now:      time.Now,
	}, nil
}

// Jobs returns the scheduled job set with schedules from [jobs]. A job with an
// empty schedule is disabled and left out.
func (r *Runner) Jobs() []scheduler.Job {
	all := []scheduler.Job{
		{Name: NameAutoApprove, Schedule: r.cfg.Jobs.AutoApproveSchedule, Run: func(ctx context.Context) error {
			_, err := r.AutoApprove(ctx)
			return err
		}},
		{Name: NameKBCleanup, Schedule: r.cfg.Jobs.CleanupSchedule, Run: func(ctx context.Context) error {
			_, err := r.Cleanup(ctx)
			return err
		}},
		{Name: NameHealthCheck, Schedule: r.cfg.Jobs.HealthCheckSchedule, Run: func(ctx context.Context) error {
			_, err := r.HealthCheck(ctx)
			return err
		}},
	}
	enabled := all[:0]
	for _, job := range all {
		if strings.TrimSpace(job.Schedule) != "" {
			enabled = append(enabled, job)
		}
	}
	return enabled
}

// AutoApprove approves validated versions left pending longer than the
// configured window.
func (r *Runner) AutoApprove(ctx context.Context) ([]string, error) {
	window := r.cfg.AutoApproveAfter()
	approved, err := r.catalog.AutoApprove(ctx, r.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("auto-approve: %w", err)
	}
	if len(approved) > 0 {
		r.logger.Info("pending catalog versions auto-approved",
			logging.Int("count", len(approved)),
			logging.Duration("window", window))
		r.Notify(ctx, notifications.EventVersionsAutoApproved, notifications.Payload{
			"version_ids": strings.Join(approved, ", "),
		})
	}
	return approved, nil
}

// Cleanup removes mappings for archived or unknown versions and mappings past
// retention, then relearns related-item edges from the remaining match log.
func (r *Runner) Cleanup(ctx context.Context) (CleanupReport, error) {
	live, err := r.catalog.LiveVersionIDs(ctx)
	if err != nil {
		return CleanupReport{}, fmt.Errorf("cleanup: %w", err)
	}
	if live == nil {
		live = []string{}
	}
	result, err := r.kb.Cleanup(ctx, kb.CleanupPolicy{
		LiveVersionIDs: live,
		Retention:      r.cfg.RetentionWindow(),
		Now:            r.now(),
	})
	if err != nil {
		return CleanupReport{}, fmt.Errorf("cleanup: %w", err)
	}
	learned, err := r.kb.LearnRelated(ctx, relatedMinShared)
	if err != nil {
		return CleanupReport{CleanupResult: result}, fmt.Errorf("learn related items: %w", err)
	}
	report := CleanupReport{CleanupResult: result, LearnedRelations: learned}
	r.logger.Info("knowledge base cleanup finished",
		logging.Int64("orphaned_mappings", result.OrphanedMappings),
		logging.Int64("stale_mappings", result.StaleMappings),
		logging.Int64("match_records", result.MatchRecords),
		logging.Int64("processed_feedback", result.ProcessedFeedback),
		logging.Int("learned_relations", learned))
	return report, nil
}

// HealthCheck runs the catalog health check with the knowledge base's version
// references and the filesystem preflight folded in.
func (r *Runner) HealthCheck(ctx context.Context) (*catalog.HealthReport, error) {
	return r.health(ctx, preflight.Options{})
}

// HealthCheckWithLLM is HealthCheck plus a ping of the model endpoint.
func (r *Runner) HealthCheckWithLLM(ctx context.Context) (*catalog.HealthReport, error) {
	return r.health(ctx, preflight.Options{IncludeLLM: true})
}

func (r *Runner) health(ctx context.Context, opts preflight.Options) (*catalog.HealthReport, error) {
	versionIDs, err := r.kb.DistinctVersionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	previous, err := r.catalog.LastHealth(ctx)
	if err != nil {
		r.logger.Debug("previous health report unavailable", logging.Error(err))
	}
	var extra []catalog.HealthCheck
	for _, res := range preflight.RunAll(ctx, r.cfg, opts) {
		extra = append(extra, catalog.HealthCheck{Name: res.Name, Passed: res.Passed, Detail: res.Detail})
	}
	report, err := r.catalog.CheckHealth(ctx, catalog.HealthOptions{
		HistoricalWindow:    r.cfg.Catalog.HistoricalWindow,
		HistoricalDeviation: r.cfg.Catalog.HistoricalDeviation,
		KBVersionIDs:        versionIDs,
		Extra:               extra,
	})
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	// Alert on transitions only; a health check runs every few minutes.
	switch {
	case !report.Healthy && (previous == nil || previous.Healthy):
		var failing []string
		for _, check := range report.Checks {
			if !check.Passed {
				failing = append(failing, check.Name)
			}
		}
		r.Notify(ctx, notifications.EventHealthDegraded, notifications.Payload{"failing": strings.Join(failing, ", ")})
	case report.Healthy && previous != nil && !previous.Healthy:
		r.Notify(ctx, notifications.EventHealthRecovered, nil)
	}
	return report, nil
}

// Notify publishes event to the configured ntfy topic. Failures are logged,
// never returned.
func (r *Runner) Notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(r.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "operators were not alerted"))
	}
}
