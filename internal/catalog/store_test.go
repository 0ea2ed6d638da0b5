package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/testsupport"
)

func prefixedCodes(prefix string, n int) []catalog.Code {
	codes := make([]catalog.Code, 0, n)
	for i := range n {
		codes = append(codes, catalog.Code{
			Code:    fmt.Sprintf("%s-%03d", prefix, i),
			Name:    fmt.Sprintf("Položka %s %d", prefix, i),
			Unit:    "m2",
			Section: []string{"foundations", "masonry"}[i%2],
		})
	}
	return codes
}

func TestSubmitPersistsPendingVersionWithReport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	version, err := store.Submit(ctx, catalog.Submission{Label: "2026 Q3", Codes: testsupport.CatalogCodes()})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if version.Status != catalog.StatusPending {
		t.Fatalf("expected pending, got %s", version.Status)
	}

	stored, err := store.Get(ctx, version.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.ValidationPassed || stored.Report == nil {
		t.Fatalf("expected passing validation report, got %+v", stored)
	}
	if stored.CodeCount != len(testsupport.CatalogCodes()) {
		t.Fatalf("expected %d codes, got %d", len(testsupport.CatalogCodes()), stored.CodeCount)
	}
	if got := strings.Join(stored.Report.Sections, ","); got != strings.Join(testsupport.Sections(), ",") {
		t.Fatalf("unexpected sections %q", got)
	}
	if stored.Label != "2026 Q3" {
		t.Fatalf("label not persisted: %q", stored.Label)
	}
}

func TestValidationRules(t *testing.T) {
	policy := catalog.Policy{
		MinCodes:         3,
		MaxCodes:         10,
		RequiredSections: []string{"foundations", "roofing"},
		MaxSkipRate:      0.1,
	}
	store, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), policy, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	base := []catalog.Code{
		{Code: "1", Name: "Beton", Section: "foundations"},
		{Code: "2", Name: "Krytina", Section: "roofing"},
		{Code: "3", Name: "Bednění", Section: "foundations"},
	}

	tests := []struct {
		name   string
		sub    catalog.Submission
		failed []string
	}{
		{name: "valid", sub: catalog.Submission{Codes: base}},
		{
			name:   "too few codes",
			sub:    catalog.Submission{Codes: base[:2]},
			failed: []string{catalog.RuleCodeCount},
		},
		{
			name:   "missing section",
			sub:    catalog.Submission{Codes: append([]catalog.Code{{Code: "4", Name: "Omítka", Section: "plaster"}}, base[0], base[2])},
			failed: []string{catalog.RuleSectionCoverage},
		},
		{
			name:   "duplicate code",
			sub:    catalog.Submission{Codes: append(append([]catalog.Code(nil), base...), catalog.Code{Code: "1", Name: "Jiný beton", Section: "foundations"})},
			failed: []string{catalog.RuleDuplicateCodes},
		},
		{
			name:   "skip rate",
			sub:    catalog.Submission{Codes: base, SourceRows: 5, SkippedRows: 2},
			failed: []string{catalog.RuleSkipRate},
		},
		{
			name:   "malformed rows count as skipped",
			sub:    catalog.Submission{Codes: append(append([]catalog.Code(nil), base...), catalog.Code{Code: "9", Name: "", Section: "foundations"})},
			failed: []string{catalog.RuleSkipRate},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			version, err := store.Submit(context.Background(), tc.sub)
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			got := version.Report.FailedRules()
			if strings.Join(got, ",") != strings.Join(tc.failed, ",") {
				t.Fatalf("expected failed rules %v, got %v", tc.failed, got)
			}
			if version.ValidationPassed != (len(tc.failed) == 0) {
				t.Fatalf("ValidationPassed=%v with failed rules %v", version.ValidationPassed, got)
			}
		})
	}
}

func TestApproveRequiresPassingValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Catalog.RequiredSections = []string{"roofing"}
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	version, err := store.Submit(ctx, catalog.Submission{Codes: testsupport.CatalogCodes()})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if version.ValidationPassed {
		t.Fatal("expected validation to fail on missing section")
	}
	if _, err := store.Approve(ctx, version.ID); !errors.Is(err, catalog.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if _, err := store.Activate(ctx, version.ID); !errors.Is(err, catalog.ErrInvalidTransition) {
		t.Fatalf("expected pending version activation to be rejected, got %v", err)
	}
}

func TestActivateKeepsSingleActiveVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	first := testsupport.MustActivate(t, store, "first", testsupport.CatalogCodes())
	second := testsupport.MustActivate(t, store, "second", testsupport.CatalogCodes())

	activeID, err := store.ActiveVersionID(ctx)
	if err != nil {
		t.Fatalf("ActiveVersionID failed: %v", err)
	}
	if activeID != second.ID {
		t.Fatalf("expected %s active, got %s", second.ID, activeID)
	}

	previous, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if previous.Status != catalog.StatusInactive || previous.DeactivatedAt == nil {
		t.Fatalf("expected previous version demoted, got %s", previous.Status)
	}

	assertSingleActive(t, store)

	// Rolling back re-activates the inactive version through the same swap.
	if _, err := store.Activate(ctx, first.ID); err != nil {
		t.Fatalf("rollback Activate failed: %v", err)
	}
	assertSingleActive(t, store)
	activeID, _ = store.ActiveVersionID(ctx)
	if activeID != first.ID {
		t.Fatalf("expected rollback to %s, got %s", first.ID, activeID)
	}
}

func assertSingleActive(t *testing.T, store *catalog.Store) {
	t.Helper()
	versions, err := store.List(context.Background(), true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	active := 0
	for _, v := range versions {
		if v.Status == catalog.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active version, got %d", active)
	}
}

func TestArchivedVersionsAreExcluded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	old := testsupport.MustActivate(t, store, "old", testsupport.CatalogCodes())
	testsupport.MustActivate(t, store, "new", testsupport.CatalogCodes())

	if _, err := store.Archive(ctx, old.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	exists, err := store.CodeExists(ctx, old.ID, testsupport.CodeConcreteC2530)
	if err != nil {
		t.Fatalf("CodeExists failed: %v", err)
	}
	if exists {
		t.Fatal("expected archived version codes to be excluded")
	}

	live, err := store.LiveVersionIDs(ctx)
	if err != nil {
		t.Fatalf("LiveVersionIDs failed: %v", err)
	}
	for _, id := range live {
		if id == old.ID {
			t.Fatal("archived version reported as live")
		}
	}

	listed, err := store.List(ctx, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one listed version, got %d", len(listed))
	}

	if _, err := store.Activate(ctx, old.ID); !errors.Is(err, catalog.ErrInvalidTransition) {
		t.Fatalf("expected archived version activation to fail, got %v", err)
	}
}

func TestArchiveActiveVersionIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	active := testsupport.MustActivate(t, store, "live", testsupport.CatalogCodes())
	if _, err := store.Archive(context.Background(), active.ID); !errors.Is(err, catalog.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestGetUnknownVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, catalog.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if _, err := store.Approve(context.Background(), "missing"); !errors.Is(err, catalog.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound from Approve, got %v", err)
	}
}

func TestAutoApproveSkipsRejectedAndFailedVersions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	due, err := store.Submit(ctx, catalog.Submission{Label: "due", Codes: testsupport.CatalogCodes()})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	rejected, err := store.Submit(ctx, catalog.Submission{Label: "rejected", Codes: testsupport.CatalogCodes()})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := store.Reject(ctx, rejected.ID, "wrong price list"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	failing, err := store.Submit(ctx, catalog.Submission{Label: "failing", Codes: nil, SkippedRows: 10})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	approved, err := store.AutoApprove(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("AutoApprove failed: %v", err)
	}
	if len(approved) != 1 || approved[0] != due.ID {
		t.Fatalf("expected only %s approved, got %v", due.ID, approved)
	}

	for id, want := range map[string]catalog.Status{
		due.ID:      catalog.StatusApproved,
		rejected.ID: catalog.StatusRejected,
		failing.ID:  catalog.StatusPending,
	} {
		v, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v.Status != want {
			t.Fatalf("version %s: expected %s, got %s", id, want, v.Status)
		}
	}

	rej, _ := store.Get(ctx, rejected.ID)
	if rej.StatusReason != "wrong price list" || rej.RejectedAt == nil {
		t.Fatalf("expected rejection reason recorded, got %+v", rej)
	}
}

func TestAutoApproveRespectsCutoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	if _, err := store.Submit(ctx, catalog.Submission{Codes: testsupport.CatalogCodes()}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	approved, err := store.AutoApprove(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("AutoApprove failed: %v", err)
	}
	if len(approved) != 0 {
		t.Fatalf("expected nothing approved before cutoff, got %v", approved)
	}
}

func TestActiveSnapshotFollowsPointer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	if _, err := store.Active(ctx); !errors.Is(err, catalog.ErrNoActiveCatalog) {
		t.Fatalf("expected ErrNoActiveCatalog, got %v", err)
	}

	a := testsupport.MustActivate(t, store, "a", prefixedCodes("A", 6))
	snapA, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if snapA.VersionID != a.ID || snapA.Len() != 6 {
		t.Fatalf("unexpected snapshot %s with %d codes", snapA.VersionID, snapA.Len())
	}
	again, _ := store.Active(ctx)
	if again != snapA {
		t.Fatal("expected cached snapshot to be reused for the same generation")
	}

	b := testsupport.MustActivate(t, store, "b", prefixedCodes("B", 4))
	snapB, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if snapB.VersionID != b.ID || snapB.Generation <= snapA.Generation {
		t.Fatalf("expected newer snapshot for %s, got %s gen %d", b.ID, snapB.VersionID, snapB.Generation)
	}
	// The earlier snapshot is immutable.
	if !snapA.Contains("A-000") || snapA.Contains("B-000") {
		t.Fatal("previous snapshot changed after activation")
	}
}

func TestActiveSnapshotsNeverMixVersions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	a := testsupport.MustActivate(t, store, "a", prefixedCodes("A", 20))
	b := testsupport.MustActivate(t, store, "b", prefixedCodes("B", 20))
	prefixes := map[string]string{a.ID: "A-", b.ID: "B-"}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []string
	)
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, err := store.Active(ctx)
				if err != nil {
					mu.Lock()
					errs = append(errs, err.Error())
					mu.Unlock()
					return
				}
				want := prefixes[snap.VersionID]
				for _, code := range snap.Codes() {
					if !strings.HasPrefix(code.Code, want) || code.VersionID != snap.VersionID {
						mu.Lock()
						errs = append(errs, fmt.Sprintf("snapshot %s contains %s from %s", snap.VersionID, code.Code, code.VersionID))
						mu.Unlock()
						return
					}
				}
			}
		}()
	}

	for i := range 6 {
		target := a.ID
		if i%2 == 1 {
			target = b.ID
		}
		if _, err := store.Activate(ctx, target); err != nil {
			close(stop)
			wg.Wait()
			t.Fatalf("Activate failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("inconsistent snapshots: %v", errs)
	}
	assertSingleActive(t, store)
}
