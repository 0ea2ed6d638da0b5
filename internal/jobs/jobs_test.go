package jobs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"boqmatch/internal/catalog"
	"boqmatch/internal/config"
	"boqmatch/internal/jobs"
	"boqmatch/internal/kb"
	"boqmatch/internal/preflight"
	"boqmatch/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	catalog *catalog.Store
	kb      *kb.Store
	runner  *jobs.Runner
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	catalogStore := testsupport.MustOpenCatalog(t, cfg)
	kbStore := testsupport.MustOpenKB(t, cfg)
	runner, err := jobs.New(cfg, catalogStore, kbStore, nil)
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	return &fixture{cfg: cfg, catalog: catalogStore, kb: kbStore, runner: runner}
}

func mapping(versionID, key string) kb.Write {
	return kb.Write{CacheKey: key, NormalizedText: "omitka", Language: "cs", Code: testsupport.CodeWallPlaster, VersionID: versionID, Confidence: 0.9, Kind: kb.KindAuto}
}

func TestJobsUseConfiguredSchedules(t *testing.T) {
	f := newFixture(t)
	got := map[string]string{}
	for _, job := range f.runner.Jobs() {
		if job.Run == nil {
			t.Fatalf("job %s has no body", job.Name)
		}
		got[job.Name] = job.Schedule
	}
	want := map[string]string{
		jobs.NameAutoApprove: f.cfg.Jobs.AutoApproveSchedule,
		jobs.NameKBCleanup:   f.cfg.Jobs.CleanupSchedule,
		jobs.NameHealthCheck: f.cfg.Jobs.HealthCheckSchedule,
	}
	for name, schedule := range want {
		if got[name] != schedule {
			t.Fatalf("job %s schedule = %q, want %q", name, got[name], schedule)
		}
	}
}

func TestAutoApproveApprovesExpiredPendingVersions(t *testing.T) {
	f := newFixture(t)
	f.cfg.Catalog.AutoApproveAfterHours = 0
	ctx := context.Background()

	version, err := f.catalog.Submit(ctx, catalog.Submission{Label: "v1", Codes: testsupport.CatalogCodes()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	approved, err := f.runner.AutoApprove(ctx)
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 1 || approved[0] != version.ID {
		t.Fatalf("approved = %v, want [%s]", approved, version.ID)
	}
	got, err := f.catalog.Get(ctx, version.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != catalog.StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestAutoApproveWaitsForWindow(t *testing.T) {
	f := newFixture(t)
	f.cfg.Catalog.AutoApproveAfterHours = 48
	ctx := context.Background()

	if _, err := f.catalog.Submit(ctx, catalog.Submission{Label: "v1", Codes: testsupport.CatalogCodes()}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	approved, err := f.runner.AutoApprove(ctx)
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 0 {
		t.Fatalf("fresh version must stay pending, approved %v", approved)
	}
}

func TestCleanupAndHealthCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := testsupport.MustActivate(t, f.catalog, "v1", testsupport.CatalogCodes())

	if _, err := f.kb.Insert(ctx, mapping(version.ID, "live-key")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := f.kb.Insert(ctx, mapping("gone", "orphan-key")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	report, err := f.runner.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if report.Healthy {
		t.Fatalf("orphaned kb version should fail the health check: %+v", report.Checks)
	}
	names := map[string]bool{}
	for _, check := range report.Checks {
		names[check.Name] = check.Passed
	}
	if passed, ok := names[catalog.CheckKBReferences]; !ok || passed {
		t.Fatalf("expected failing kb reference check, got %+v", report.Checks)
	}
	if passed, ok := names[preflight.NameDiskSpace]; !ok || !passed {
		t.Fatalf("expected passing disk check, got %+v", report.Checks)
	}

	cleanup, err := f.runner.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if cleanup.OrphanedMappings != 1 {
		t.Fatalf("orphaned mappings removed = %d, want 1", cleanup.OrphanedMappings)
	}
	if _, err := f.kb.Get(ctx, "live-key", version.ID); err != nil {
		t.Fatalf("live mapping removed: %v", err)
	}

	report, err = f.runner.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !report.Healthy {
		t.Fatalf("expected healthy report after cleanup: %+v", report.Checks)
	}
	last, err := f.catalog.LastHealth(ctx)
	if err != nil {
		t.Fatalf("LastHealth: %v", err)
	}
	if !last.Healthy {
		t.Fatal("persisted report should be the latest healthy one")
	}
}

func TestEmptyScheduleDisablesJob(t *testing.T) {
	f := newFixture(t)
	f.cfg.Jobs.HealthCheckSchedule = ""
	for _, job := range f.runner.Jobs() {
		if job.Name == jobs.NameHealthCheck {
			t.Fatal("health check should be disabled by an empty schedule")
		}
	}
	if got := len(f.runner.Jobs()); got != 2 {
		t.Fatalf("jobs = %d, want 2", got)
	}
}

func TestHealthAlertsOnTransitionsOnly(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, testsupport.WithNtfyTopic(srv.URL))
	ctx := context.Background()
	version := testsupport.MustActivate(t, f.catalog, "v1", testsupport.CatalogCodes())
	if _, err := f.kb.Insert(ctx, mapping(version.ID, "live-key")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := f.kb.Insert(ctx, mapping("gone", "orphan-key")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for range 2 {
		if _, err := f.runner.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
	}
	if _, err := f.runner.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := f.runner.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"boqmatch - Health Check Failed", "boqmatch - Health Restored"}
	if len(titles) != len(want) {
		t.Fatalf("notifications = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("notification %d = %q, want %q", i, titles[i], want[i])
		}
	}
}
