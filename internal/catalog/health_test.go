package catalog_test

import (
	"context"
	"testing"

	"boqmatch/internal/catalog"
	"boqmatch/internal/testsupport"
)

func checkByName(report *catalog.HealthReport, name string) (catalog.HealthCheck, bool) {
	for _, check := range report.Checks {
		if check.Name == name {
			return check, true
		}
	}
	return catalog.HealthCheck{}, false
}

func TestHealthCheckWithoutActiveVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	report, err := store.CheckHealth(ctx, catalog.HealthOptions{})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if report.Healthy {
		t.Fatal("expected unhealthy report without an active version")
	}
	check, ok := checkByName(report, catalog.CheckActiveVersion)
	if !ok || check.Passed {
		t.Fatalf("expected failed active version check, got %+v", report.Checks)
	}

	last, err := store.LastHealth(ctx)
	if err != nil {
		t.Fatalf("LastHealth failed: %v", err)
	}
	if last == nil || last.Healthy {
		t.Fatalf("expected persisted unhealthy report, got %+v", last)
	}
}

func TestHealthCheckFlagsOrphanedKBVersions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	active := testsupport.MustActivate(t, store, "live", testsupport.CatalogCodes())

	healthy, err := store.CheckHealth(ctx, catalog.HealthOptions{KBVersionIDs: []string{active.ID}})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !healthy.Healthy {
		t.Fatalf("expected healthy report, got %+v", healthy.Checks)
	}

	report, err := store.CheckHealth(ctx, catalog.HealthOptions{KBVersionIDs: []string{active.ID, "gone"}})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	check, ok := checkByName(report, catalog.CheckKBReferences)
	if !ok || check.Passed || report.Healthy {
		t.Fatalf("expected orphaned reference failure, got %+v", report.Checks)
	}
}

func TestHealthCheckComparesCodeCountWithHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	testsupport.MustActivate(t, store, "v1", prefixedCodes("A", 20))
	testsupport.MustActivate(t, store, "v2", prefixedCodes("B", 22))
	testsupport.MustActivate(t, store, "v3", prefixedCodes("C", 21))

	report, err := store.CheckHealth(ctx, catalog.HealthOptions{HistoricalWindow: 5, HistoricalDeviation: 0.5})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if check, _ := checkByName(report, catalog.CheckCodeCount); !check.Passed {
		t.Fatalf("expected code count within bounds, got %+v", check)
	}

	testsupport.MustActivate(t, store, "truncated", prefixedCodes("D", 3))
	report, err = store.CheckHealth(ctx, catalog.HealthOptions{HistoricalWindow: 5, HistoricalDeviation: 0.5})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	check, _ := checkByName(report, catalog.CheckCodeCount)
	if check.Passed || report.Healthy {
		t.Fatalf("expected truncated catalog to fail history check, got %+v", check)
	}

	activeID, _ := store.ActiveVersionID(ctx)
	if report.ActiveVersionID != activeID {
		t.Fatal("health check must not roll back the active version")
	}
}

func TestHealthCheckIncludesExtraChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	testsupport.MustActivate(t, store, "live", testsupport.CatalogCodes())

	report, err := store.CheckHealth(context.Background(), catalog.HealthOptions{
		Extra: []catalog.HealthCheck{{Name: "disk_space", Passed: false, Detail: "10 MiB free"}},
	})
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if report.Healthy {
		t.Fatal("expected failing extra check to mark report unhealthy")
	}
}

func TestStatusSummarizesActiveVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	active := testsupport.MustActivate(t, store, "live", testsupport.CatalogCodes())
	if _, err := store.Submit(ctx, catalog.Submission{Codes: testsupport.CatalogCodes()}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := store.CheckHealth(ctx, catalog.HealthOptions{}); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}

	status, err := store.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ActiveVersionID != active.ID || status.CodeCount != len(testsupport.CatalogCodes()) {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.PendingVersions != 1 {
		t.Fatalf("expected 1 pending version, got %d", status.PendingVersions)
	}
	if status.LastHealth == nil {
		t.Fatal("expected last health check in status")
	}
}
