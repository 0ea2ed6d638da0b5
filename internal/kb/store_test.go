package kb_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"boqmatch/internal/kb"
	"boqmatch/internal/testsupport"
)

func openStore(t *testing.T) *kb.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenKB(t, cfg)
}

func write(text, code string, kind kb.Kind, confidence float64) kb.Write {
	return kb.Write{
		CacheKey:       kb.CacheKey(text, nil),
		NormalizedText: text,
		Language:       "cs",
		Code:           code,
		VersionID:      "v1",
		Confidence:     confidence,
		Kind:           kind,
	}
}

func TestInsertAndExactLookup(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	res, err := store.Insert(ctx, write("beton zakladu c25/30", "231-001", kb.KindConfirm, 0.9))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if res.Action != kb.ActionInserted || res.Mapping.Confidence != 0.97 {
		t.Fatalf("expected confirm inserted at 0.97, got %+v", res)
	}

	hit, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey("beton zakladu c25/30", nil), NormalizedText: "beton zakladu c25/30", Language: "cs", VersionID: "v1"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hit.Fuzzy || hit.Mapping.Code != "231-001" {
		t.Fatalf("unexpected hit %+v", hit)
	}

	// Another version never sees the mapping.
	if _, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey("beton zakladu c25/30", nil), VersionID: "v2"}); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected miss for another version, got %v", err)
	}
}

func TestInsertReinforcesSameCode(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Insert(ctx, write("zdivo nosne", "311-001", kb.KindAuto, 0.86))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	second, err := store.Insert(ctx, write("zdivo nosne", "311-001", kb.KindConfirm, 0))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if second.Action != kb.ActionReinforced || second.Mapping.UsageCount != 2 {
		t.Fatalf("expected reinforcement, got %+v", second)
	}
	if second.Mapping.Confidence <= first.Mapping.Confidence {
		t.Fatalf("expected confidence to rise: %v -> %v", first.Mapping.Confidence, second.Mapping.Confidence)
	}
	if second.Mapping.Confidence > 0.99 {
		t.Fatalf("confidence exceeded cap: %v", second.Mapping.Confidence)
	}

	// A weaker automatic repeat never lowers the stored confidence.
	third, err := store.Insert(ctx, write("zdivo nosne", "311-001", kb.KindAuto, 0.5))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if third.Mapping.Confidence < second.Mapping.Confidence {
		t.Fatalf("confidence dropped: %v -> %v", second.Mapping.Confidence, third.Mapping.Confidence)
	}
}

func TestInsertDifferentCodeRules(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.Insert(ctx, write("omitka sten", "612-001", kb.KindAuto, 0.88)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	kept, err := store.Insert(ctx, write("omitka sten", "612-002", kb.KindAuto, 0.80))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if kept.Action != kb.ActionKept || kept.Mapping.Code != "612-001" {
		t.Fatalf("expected weaker write to be ignored, got %+v", kept)
	}

	replaced, err := store.Insert(ctx, write("omitka sten", "612-002", kb.KindAuto, 0.93))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if replaced.Action != kb.ActionReplaced || replaced.Mapping.Code != "612-002" || replaced.Mapping.UsageCount != 1 {
		t.Fatalf("expected stronger write to replace, got %+v", replaced)
	}

	corrected, err := store.Insert(ctx, write("omitka sten", "612-001", kb.KindCorrection, 0.1))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if corrected.Action != kb.ActionReplaced || corrected.Mapping.Code != "612-001" || corrected.Mapping.Confidence != 0.95 {
		t.Fatalf("expected correction to overwrite at 0.95, got %+v", corrected)
	}

	auto, err := store.Insert(ctx, write("omitka sten", "612-002", kb.KindAuto, 0.99))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if auto.Action != kb.ActionKept || auto.Mapping.Code != "612-001" {
		t.Fatalf("automatic write replaced a corrected mapping: %+v", auto)
	}
}

func TestInsertRejectsIncompleteWrites(t *testing.T) {
	store := openStore(t)
	w := write("beton", "", kb.KindAuto, 0.9)
	if _, err := store.Insert(context.Background(), w); err == nil {
		t.Fatal("expected error for empty code")
	}
	w = write("beton", "231-001", kb.Kind("guess"), 0.9)
	if _, err := store.Insert(context.Background(), w); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestFuzzyLookupSameVersionLanguageAndContext(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	stored := "vyztuz zakladu z betonarske oceli b500b"
	if _, err := store.Insert(ctx, write(stored, "231-020", kb.KindConfirm, 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	near := "vyztuz zakladu z betonarske oceli b500"
	hit, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey(near, nil), NormalizedText: near, Language: "cs", VersionID: "v1"})
	if err != nil {
		t.Fatalf("expected fuzzy hit, got %v", err)
	}
	if !hit.Fuzzy || hit.Mapping.Code != "231-020" || hit.Confidence >= hit.Mapping.Confidence {
		t.Fatalf("unexpected fuzzy hit %+v", hit)
	}

	if _, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey(near, nil), NormalizedText: near, Language: "sk", VersionID: "v1"}); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected miss for another language, got %v", err)
	}

	far := "vyztuz zakladu ze sklolaminatu"
	if _, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey(far, nil), NormalizedText: far, Language: "cs", VersionID: "v1"}); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected miss for dissimilar text, got %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Lookups != 3 || stats.FuzzyHits != 1 || stats.Misses != 2 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestHitRateGrowsWithConfirmations(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("polozka %02d", i)
	}
	replay := func() float64 {
		hits := 0
		for _, text := range texts {
			_, err := store.Lookup(ctx, kb.Query{CacheKey: kb.CacheKey(text, nil), NormalizedText: text, Language: "cs", VersionID: "v1"})
			if err == nil {
				hits++
			} else if !errors.Is(err, kb.ErrNotFound) {
				t.Fatalf("Lookup failed: %v", err)
			}
		}
		return float64(hits) / float64(len(texts))
	}

	previous := replay()
	for batch := 0; batch < 4; batch++ {
		for _, text := range texts[batch*10 : (batch+1)*10] {
			if _, err := store.Insert(ctx, write(text, fmt.Sprintf("C-%s", text), kb.KindConfirm, 0)); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
		}
		rate := replay()
		if rate < previous {
			t.Fatalf("hit rate decreased from %v to %v after batch %d", previous, rate, batch)
		}
		previous = rate
	}
	if previous != 1 {
		t.Fatalf("expected every confirmed input to hit, got %v", previous)
	}
}

func TestFeedbackInboxIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	queued, err := store.EnqueueFeedback(ctx, kb.Feedback{MatchID: "m1", Confirmed: true, ProjectContext: map[string]string{"project": "p"}})
	if err != nil || !queued {
		t.Fatalf("EnqueueFeedback = %v, %v", queued, err)
	}
	queued, err = store.EnqueueFeedback(ctx, kb.Feedback{MatchID: "m1", Confirmed: true})
	if err != nil || queued {
		t.Fatalf("duplicate enqueue = %v, %v", queued, err)
	}

	pending, err := store.PendingFeedback(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ProjectContext["project"] != "p" {
		t.Fatalf("unexpected pending feedback %+v, %v", pending, err)
	}

	w := write("beton zakladu", "231-001", kb.KindConfirm, 0.9)
	effect := kb.Effect{MatchID: "m1", Outcome: kb.OutcomeConfirmed, Write: &w}
	applied, res, err := store.ApplyFeedback(ctx, effect)
	if err != nil || !applied || res.Mapping.UsageCount != 1 {
		t.Fatalf("first apply = %v, %+v, %v", applied, res, err)
	}
	applied, _, err = store.ApplyFeedback(ctx, effect)
	if err != nil || applied {
		t.Fatalf("second apply = %v, %v", applied, err)
	}

	mapping, err := store.Get(ctx, w.CacheKey, "v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mapping.UsageCount != 1 {
		t.Fatalf("feedback double-counted usage: %d", mapping.UsageCount)
	}

	queued, err = store.EnqueueFeedback(ctx, kb.Feedback{MatchID: "m1", Confirmed: true})
	if err != nil || queued {
		t.Fatalf("processed feedback re-queued: %v, %v", queued, err)
	}
	outcome, err := store.FeedbackOutcome(ctx, "m1")
	if err != nil || outcome != kb.OutcomeConfirmed {
		t.Fatalf("FeedbackOutcome = %q, %v", outcome, err)
	}
}

func TestRejectedFeedbackDemotesMapping(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	w := write("poter podlah", "771-002", kb.KindAuto, 0.9)
	if _, err := store.Insert(ctx, w); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	applied, res, err := store.ApplyFeedback(ctx, kb.Effect{
		MatchID: "m2",
		Outcome: kb.OutcomeRejected,
		Demote:  &kb.Demotion{CacheKey: w.CacheKey, VersionID: "v1", Code: "771-002"},
	})
	if err != nil || !applied {
		t.Fatalf("ApplyFeedback = %v, %v", applied, err)
	}
	if res.Action != kb.ActionDemoted || res.Mapping.Confidence != 0.45 {
		t.Fatalf("expected demotion to 0.45, got %+v", res)
	}
}

func TestFailFeedbackExhaustsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opts := kb.OptionsFromConfig(cfg.KB, cfg.Matching)
	opts.MaxFeedbackAttempts = 2
	store, err := kb.Open(context.Background(), filepath.Join(t.TempDir(), "kb.db"), opts, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.EnqueueFeedback(ctx, kb.Feedback{MatchID: "m3", Confirmed: true}); err != nil {
		t.Fatalf("EnqueueFeedback failed: %v", err)
	}
	if err := store.FailFeedback(ctx, "m3", errors.New("match unknown")); err != nil {
		t.Fatalf("FailFeedback failed: %v", err)
	}
	fb, err := store.PendingFeedbackFor(ctx, "m3")
	if err != nil || fb.Attempts != 1 || fb.LastError != "match unknown" {
		t.Fatalf("unexpected inbox entry %+v, %v", fb, err)
	}
	if err := store.FailFeedback(ctx, "m3", errors.New("match unknown")); err != nil {
		t.Fatalf("FailFeedback failed: %v", err)
	}
	if _, err := store.PendingFeedbackFor(ctx, "m3"); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected exhausted feedback removed from inbox, got %v", err)
	}
	if outcome, _ := store.FeedbackOutcome(ctx, "m3"); outcome != kb.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", outcome)
	}
}

func TestMatchLogRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rec := kb.MatchRecord{MatchID: "m4", CacheKey: "k", NormalizedText: "beton", Language: "cs", Code: "231-001", VersionID: "v1", Confidence: 0.9, Source: "classifier"}
	if err := store.RecordMatch(ctx, rec); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}
	got, err := store.GetMatch(ctx, "m4")
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if got.Code != "231-001" || got.Source != "classifier" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := store.GetMatch(ctx, "missing"); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupRemovesOrphanedAndStaleMappings(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	live := write("beton", "231-001", kb.KindConfirm, 0)
	orphan := write("zdivo", "311-001", kb.KindConfirm, 0)
	orphan.VersionID = "archived"
	for _, w := range []kb.Write{live, orphan} {
		if _, err := store.Insert(ctx, w); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	ids, err := store.DistinctVersionIDs(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("DistinctVersionIDs = %v, %v", ids, err)
	}

	res, err := store.Cleanup(ctx, kb.CleanupPolicy{LiveVersionIDs: []string{"v1"}, Retention: time.Hour})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if res.OrphanedMappings != 1 || res.StaleMappings != 0 {
		t.Fatalf("unexpected cleanup result %+v", res)
	}

	res, err = store.Cleanup(ctx, kb.CleanupPolicy{Retention: time.Hour, Now: time.Now().Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if res.StaleMappings != 1 {
		t.Fatalf("expected stale mapping removed, got %+v", res)
	}
	if _, err := store.Get(ctx, live.CacheKey, "v1"); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("expected stale mapping gone, got %v", err)
	}
}

func TestRelatedItems(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i, code := range []string{"231-010", "231-020", "231-001"} {
		for _, project := range []string{"p1", "p2"} {
			rec := kb.MatchRecord{
				MatchID:     fmt.Sprintf("%s-%d", project, i),
				CacheKey:    "k",
				ContextHash: kb.ContextHash(map[string]string{"project": project}),
				Language:    "cs",
				Code:        code,
				VersionID:   "v1",
				Source:      "classifier",
			}
			if err := store.RecordMatch(ctx, rec); err != nil {
				t.Fatalf("RecordMatch failed: %v", err)
			}
		}
	}
	if err := store.PutRelated(ctx, kb.Related{Code: "231-010", RelatedCode: "231-020", Strength: 0.4}); err != nil {
		t.Fatalf("PutRelated failed: %v", err)
	}

	written, err := store.LearnRelated(ctx, 2)
	if err != nil {
		t.Fatalf("LearnRelated failed: %v", err)
	}
	if written != 5 {
		t.Fatalf("expected 5 learned edges (manual edge untouched), got %d", written)
	}

	related, err := store.RelatedItems(ctx, "231-010", 10)
	if err != nil {
		t.Fatalf("RelatedItems failed: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("expected two suggestions, got %+v", related)
	}
	if related[0].RelatedCode != "231-001" || related[0].Strength != 1 {
		t.Fatalf("expected learned edge first, got %+v", related[0])
	}
	if related[1].Source != kb.RelatedManual || related[1].Strength != 0.4 {
		t.Fatalf("manual edge overwritten: %+v", related[1])
	}

	if err := store.PutRelated(ctx, kb.Related{Code: "x", RelatedCode: "x"}); err == nil {
		t.Fatal("expected self edge to be rejected")
	}
}
