package testsupport

import (
	"context"
	"testing"

	"boqmatch/internal/catalog"
	"boqmatch/internal/config"
	"boqmatch/internal/kb"
)

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(context.Background(), cfg.CatalogDBPath(), catalog.PolicyFromConfig(cfg.Catalog), nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenKB opens a kb.Store for tests and registers cleanup.
func MustOpenKB(t testing.TB, cfg *config.Config) *kb.Store {
	t.Helper()

	store, err := kb.Open(context.Background(), cfg.KBDBPath(), kb.OptionsFromConfig(cfg.KB, cfg.Matching), nil)
	if err != nil {
		t.Fatalf("kb.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustActivate submits codes, approves and activates the resulting version.
func MustActivate(t testing.TB, store *catalog.Store, label string, codes []catalog.Code) *catalog.Version {
	t.Helper()

	ctx := context.Background()
	version, err := store.Submit(ctx, catalog.Submission{Label: label, Codes: codes})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !version.ValidationPassed {
		t.Fatalf("fixture version failed validation: %v", version.Report.FailedRules())
	}
	if _, err := store.Approve(ctx, version.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	activated, err := store.Activate(ctx, version.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return activated
}
