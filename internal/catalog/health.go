package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
)

// Health check names.
const (
	CheckActiveVersion = "active_version"
	CheckCodeCount     = "code_count_history"
	CheckKBReferences  = "kb_version_references"
)

// HealthCheck is the outcome of one health check run.
type HealthCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// HealthReport is the persisted result of a health check run.
type HealthReport struct {
	CheckedAt       time.Time     `json:"checked_at"`
	Healthy         bool          `json:"healthy"`
	ActiveVersionID string        `json:"active_version_id,omitempty"`
	CodeCount       int           `json:"code_count"`
	Checks          []HealthCheck `json:"checks"`
}

// HealthOptions carries inputs owned by other components.
type HealthOptions struct {
	// HistoricalWindow is how many previously active versions form the baseline.
	HistoricalWindow int
	// HistoricalDeviation is the tolerated relative distance from the baseline median.
	HistoricalDeviation float64
	// KBVersionIDs are the version ids referenced by knowledge base mappings.
	KBVersionIDs []string
	// Extra checks (disk space, directories) are folded into the report.
	Extra []HealthCheck
}

// CheckHealth verifies the active version, its code count against history and
// the knowledge base's version references. Failures are logged as alerts and
// persisted; nothing is rolled back.
func (s *Store) CheckHealth(ctx context.Context, opts HealthOptions) (*HealthReport, error) {
	report := &HealthReport{CheckedAt: time.Now().UTC()}

	active, err := s.activeVersionRow(ctx)
	switch {
	case errors.Is(err, ErrNoActiveCatalog):
		report.Checks = append(report.Checks, HealthCheck{Name: CheckActiveVersion, Passed: false, Detail: "no active version"})
	case err != nil:
		return nil, err
	default:
		report.ActiveVersionID = active.ID
		report.CodeCount = active.CodeCount
		check := HealthCheck{Name: CheckActiveVersion, Passed: active.CodeCount > 0, Detail: fmt.Sprintf("version %s with %d codes", active.ID, active.CodeCount)}
		if active.CodeCount == 0 {
			check.Detail = fmt.Sprintf("version %s has no codes", active.ID)
		}
		report.Checks = append(report.Checks, check)

		history, err := s.historyCheck(ctx, active, opts)
		if err != nil {
			return nil, err
		}
		report.Checks = append(report.Checks, history)
	}

	refs, err := s.referenceCheck(ctx, opts.KBVersionIDs)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, refs)
	report.Checks = append(report.Checks, opts.Extra...)

	report.Healthy = true
	var failed []string
	for _, check := range report.Checks {
		if !check.Passed {
			report.Healthy = false
			failed = append(failed, check.Name)
		}
	}

	if err := s.saveHealth(ctx, report); err != nil {
		return nil, err
	}

	if report.Healthy {
		metrics.CatalogHealthy.Set(1)
		s.logger.Debug("catalog health check passed", logging.Int("checks", len(report.Checks)))
	} else {
		metrics.CatalogHealthy.Set(0)
		logging.WarnWithContext(s.logger, "catalog health check failed", "catalog_health_failed",
			logging.Alert("catalog_health"),
			logging.String("failed_checks", strings.Join(failed, ",")),
			logging.VersionID(report.ActiveVersionID),
			logging.String(logging.FieldErrorHint, "inspect 'boqmatch catalog status' and activate a known-good version if needed"),
			logging.String(logging.FieldImpact, "matching continues against the current active version"))
	}
	return report, nil
}

func (s *Store) activeVersionRow(ctx context.Context) (*Version, error) {
	id, err := s.ActiveVersionID(ctx)
	if err != nil {
		return nil, err
	}
	version, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if version.Status != StatusActive {
		return nil, fmt.Errorf("active pointer references %s version %s", version.Status, id)
	}
	return version, nil
}

func (s *Store) historyCheck(ctx context.Context, active *Version, opts HealthOptions) (HealthCheck, error) {
	window := opts.HistoricalWindow
	if window <= 0 {
		window = 5
	}
	rows, err := s.db.Query(ctx,
		`SELECT code_count FROM catalog_versions
		 WHERE status = ? AND version_id != ?
		 ORDER BY COALESCE(deactivated_at, created_at) DESC LIMIT ?`,
		string(StatusInactive), active.ID, window)
	if err != nil {
		return HealthCheck{}, fmt.Errorf("load version history: %w", err)
	}
	defer rows.Close()
	var counts []int
	for rows.Next() {
		var count int
		if err := rows.Scan(&count); err != nil {
			return HealthCheck{}, err
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return HealthCheck{}, err
	}
	if len(counts) == 0 {
		return HealthCheck{Name: CheckCodeCount, Passed: true, Detail: "no previous versions to compare"}, nil
	}

	median := medianOf(counts)
	deviation := 0.0
	if median > 0 {
		deviation = math.Abs(float64(active.CodeCount)-median) / median
	}
	limit := opts.HistoricalDeviation
	if limit <= 0 {
		limit = 0.5
	}
	return HealthCheck{
		Name:   CheckCodeCount,
		Passed: median > 0 && deviation <= limit,
		Detail: fmt.Sprintf("%d codes vs historical median %.0f (deviation %.0f%%, limit %.0f%%)", active.CodeCount, median, deviation*100, limit*100),
	}, nil
}

func (s *Store) referenceCheck(ctx context.Context, kbVersionIDs []string) (HealthCheck, error) {
	live, err := s.LiveVersionIDs(ctx)
	if err != nil {
		return HealthCheck{}, err
	}
	known := make(map[string]struct{}, len(live))
	for _, id := range live {
		known[id] = struct{}{}
	}
	var orphaned []string
	for _, id := range kbVersionIDs {
		if _, ok := known[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	if len(orphaned) == 0 {
		return HealthCheck{Name: CheckKBReferences, Passed: true, Detail: fmt.Sprintf("%d referenced versions exist", len(kbVersionIDs))}, nil
	}
	sort.Strings(orphaned)
	return HealthCheck{
		Name:   CheckKBReferences,
		Passed: false,
		Detail: fmt.Sprintf("%d knowledge base version references missing: %s (run kb cleanup)", len(orphaned), strings.Join(orphaned, ", ")),
	}, nil
}

func (s *Store) saveHealth(ctx context.Context, report *HealthReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode health report: %w", err)
	}
	_, err = s.db.Exec(ctx, "INSERT INTO health_checks (checked_at, healthy, report) VALUES (?, ?, ?)",
		sqlitedb.FormatTime(report.CheckedAt), sqlitedb.BoolToInt(report.Healthy), string(payload))
	if err != nil {
		return fmt.Errorf("save health report: %w", err)
	}
	// Keep a bounded history.
	_, err = s.db.Exec(ctx, "DELETE FROM health_checks WHERE id NOT IN (SELECT id FROM health_checks ORDER BY id DESC LIMIT 100)")
	return err
}

// LastHealth returns the most recent health report, or nil when none has run.
func (s *Store) LastHealth(ctx context.Context) (*HealthReport, error) {
	var payload string
	err := s.db.QueryRow(ctx, "SELECT report FROM health_checks ORDER BY id DESC LIMIT 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read health report: %w", err)
	}
	var report HealthReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode health report: %w", err)
	}
	return &report, nil
}

// StatusSummary backs the catalog status endpoint.
type StatusSummary struct {
	ActiveVersionID string        `json:"active_version_id,omitempty"`
	ActiveLabel     string        `json:"active_label,omitempty"`
	CodeCount       int           `json:"code_count"`
	ActivatedAt     *time.Time    `json:"activated_at,omitempty"`
	PendingVersions int           `json:"pending_versions"`
	LastHealth      *HealthReport `json:"last_health_check,omitempty"`
}

// Status summarizes the active version and the last health check.
func (s *Store) Status(ctx context.Context) (*StatusSummary, error) {
	summary := &StatusSummary{}
	active, err := s.activeVersionRow(ctx)
	switch {
	case errors.Is(err, ErrNoActiveCatalog):
	case err != nil:
		return nil, err
	default:
		summary.ActiveVersionID = active.ID
		summary.ActiveLabel = active.Label
		summary.CodeCount = active.CodeCount
		summary.ActivatedAt = active.ActivatedAt
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(1) FROM catalog_versions WHERE status = ?", string(StatusPending)).Scan(&summary.PendingVersions); err != nil {
		return nil, fmt.Errorf("count pending versions: %w", err)
	}
	last, err := s.LastHealth(ctx)
	if err != nil {
		return nil, err
	}
	summary.LastHealth = last
	return summary, nil
}

func medianOf(values []int) float64 {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
