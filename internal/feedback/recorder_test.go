package feedback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/classify"
	"boqmatch/internal/feedback"
	"boqmatch/internal/kb"
	"boqmatch/internal/matcher"
	"boqmatch/internal/resolve"
	"boqmatch/internal/testsupport"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/verify"
)

type fixedVerifier struct {
	verdict verify.Verdict
}

func (fixedVerifier) Name() string { return "fixed" }

func (f fixedVerifier) Verify(context.Context, verify.Request) (verify.Verdict, error) {
	return f.verdict, nil
}

type env struct {
	catalog  *catalog.Store
	kb       *kb.Store
	norm     *textnorm.Normalizer
	version  *catalog.Version
	recorder *feedback.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	catalogStore := testsupport.MustOpenCatalog(t, cfg)
	kbStore := testsupport.MustOpenKB(t, cfg)
	version := testsupport.MustActivate(t, catalogStore, "fixture", testsupport.CatalogCodes())

	opts := feedback.OptionsFromConfig(cfg)
	opts.PollInterval = 20 * time.Millisecond
	recorder, err := feedback.New(kbStore, catalogStore, opts, nil)
	if err != nil {
		t.Fatalf("feedback.New: %v", err)
	}
	norm := textnorm.New(textnorm.Options{WorkingLanguage: cfg.Normalizer.WorkingLanguage, Languages: cfg.Normalizer.Languages})
	return &env{catalog: catalogStore, kb: kbStore, norm: norm, version: version, recorder: recorder}
}

// seed stores an automatic mapping and the match record that produced it.
func (e *env) seed(t *testing.T, matchID, text, code string, confidence float64) kb.MatchRecord {
	t.Helper()
	ctx := context.Background()
	normalized := e.norm.Normalize(text)
	rec := kb.MatchRecord{
		MatchID:        matchID,
		CacheKey:       kb.CacheKey(normalized.Text, nil),
		NormalizedText: normalized.Text,
		Language:       normalized.Language,
		Code:           code,
		VersionID:      e.version.ID,
		Confidence:     confidence,
		Source:         "verifier",
	}
	if code != "" {
		if _, err := e.kb.Insert(ctx, kb.Write{
			CacheKey: rec.CacheKey, NormalizedText: rec.NormalizedText, Language: rec.Language,
			Code: code, VersionID: rec.VersionID, Confidence: confidence, Kind: kb.KindAuto,
		}); err != nil {
			t.Fatalf("seed mapping: %v", err)
		}
	} else {
		rec.NoMatch = true
	}
	if err := e.kb.RecordMatch(ctx, rec); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	return rec
}

func (e *env) mapping(t *testing.T, rec kb.MatchRecord) *kb.Mapping {
	t.Helper()
	m, err := e.kb.Get(context.Background(), rec.CacheKey, rec.VersionID)
	if err != nil {
		t.Fatalf("Get mapping: %v", err)
	}
	return m
}

func (e *env) orchestrator(t *testing.T, verdict verify.Verdict) *resolve.Orchestrator {
	t.Helper()
	m := matcher.New(e.norm, matcher.Options{})
	orch, err := resolve.New(resolve.Deps{
		Normalizer: e.norm,
		Catalog:    e.catalog,
		KB:         e.kb,
		Classifier: classify.NewKeyword(e.norm, m.Analyzer(), nil, 3),
		Matcher:    m,
		Verifier:   fixedVerifier{verdict: verdict},
	}, resolve.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("resolve.New: %v", err)
	}
	return orch
}

func (e *env) outcome(t *testing.T, matchID string) string {
	t.Helper()
	outcome, err := e.kb.FeedbackOutcome(context.Background(), matchID)
	if err != nil {
		t.Fatalf("FeedbackOutcome(%s): %v", matchID, err)
	}
	return outcome
}

func TestPlan(t *testing.T) {
	rec := &kb.MatchRecord{MatchID: "m1", CacheKey: "k", VersionID: "v1", Code: "612-002", Confidence: 0.6}
	noMatch := &kb.MatchRecord{MatchID: "m2", CacheKey: "k2", VersionID: "v1", NoMatch: true}

	cases := []struct {
		name     string
		rec      *kb.MatchRecord
		fb       kb.Feedback
		exists   bool
		outcome  string
		kind     kb.Kind
		code     string
		demotion bool
	}{
		{name: "unknown match", rec: nil, fb: kb.Feedback{MatchID: "x", Confirmed: true}, outcome: kb.OutcomeSkipped},
		{name: "confirm", rec: rec, fb: kb.Feedback{MatchID: "m1", Confirmed: true}, outcome: kb.OutcomeConfirmed, kind: kb.KindConfirm, code: "612-002"},
		{name: "correct", rec: rec, fb: kb.Feedback{MatchID: "m1", CorrectedCode: "612-001"}, exists: true, outcome: kb.OutcomeCorrected, kind: kb.KindCorrection, code: "612-001"},
		{name: "correct to unknown code", rec: rec, fb: kb.Feedback{MatchID: "m1", CorrectedCode: "999-999"}, outcome: kb.OutcomeSkipped},
		{name: "correct to same code", rec: rec, fb: kb.Feedback{MatchID: "m1", CorrectedCode: "612-002"}, outcome: kb.OutcomeConfirmed, kind: kb.KindConfirm, code: "612-002"},
		{name: "reject", rec: rec, fb: kb.Feedback{MatchID: "m1"}, outcome: kb.OutcomeRejected, demotion: true},
		{name: "confirm no match", rec: noMatch, fb: kb.Feedback{MatchID: "m2", Confirmed: true}, outcome: kb.OutcomeSkipped},
		{name: "reject no match", rec: noMatch, fb: kb.Feedback{MatchID: "m2"}, outcome: kb.OutcomeSkipped},
		{name: "correct no match", rec: noMatch, fb: kb.Feedback{MatchID: "m2", CorrectedCode: "612-001"}, exists: true, outcome: kb.OutcomeCorrected, kind: kb.KindCorrection, code: "612-001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			effect := feedback.Plan(tc.rec, tc.fb, tc.exists)
			if effect.Outcome != tc.outcome {
				t.Fatalf("outcome = %q, want %q (detail %q)", effect.Outcome, tc.outcome, effect.Detail)
			}
			if effect.MatchID != tc.fb.MatchID {
				t.Fatalf("match id = %q", effect.MatchID)
			}
			switch {
			case tc.code != "":
				if effect.Write == nil || effect.Write.Kind != tc.kind || effect.Write.Code != tc.code {
					t.Fatalf("unexpected write %+v", effect.Write)
				}
				if effect.Write.CacheKey != tc.rec.CacheKey || effect.Write.VersionID != tc.rec.VersionID {
					t.Fatalf("write must target the matched key and version: %+v", effect.Write)
				}
			case tc.demotion:
				if effect.Demote == nil || effect.Demote.Code != tc.rec.Code || effect.Write != nil {
					t.Fatalf("expected demotion, got %+v", effect)
				}
			default:
				if effect.Write != nil || effect.Demote != nil {
					t.Fatalf("skipped feedback must not change mappings: %+v", effect)
				}
				if effect.Detail == "" {
					t.Fatal("skipped feedback should carry a reason")
				}
			}
		})
	}
}

func TestCorrectionIsServedFromKBOnNextMatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	orch := e.orchestrator(t, verify.Verdict{Code: testsupport.CodeCeilingPlaster, Confidence: 0.6})

	first, err := orch.Match(ctx, resolve.Request{Text: "omítka"})
	if err != nil {
		t.Fatalf("first Match: %v", err)
	}
	if first.Source != resolve.SourceVerifier || first.Code != testsupport.CodeCeilingPlaster {
		t.Fatalf("unexpected first result %+v", first)
	}

	queued, err := e.recorder.Record(ctx, kb.Feedback{MatchID: first.MatchID, CorrectedCode: testsupport.CodeWallPlaster})
	if err != nil || !queued {
		t.Fatalf("Record = %v, %v", queued, err)
	}
	if n, err := e.recorder.ProcessPending(ctx); err != nil || n != 1 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	if got := e.outcome(t, first.MatchID); got != kb.OutcomeCorrected {
		t.Fatalf("outcome = %q", got)
	}

	second, err := orch.Match(ctx, resolve.Request{Text: "omítka"})
	if err != nil {
		t.Fatalf("second Match: %v", err)
	}
	if second.Source != resolve.SourceKB || second.Code != testsupport.CodeWallPlaster {
		t.Fatalf("expected corrected kb hit, got %+v", second)
	}
	if second.Confidence <= first.Confidence {
		t.Fatalf("confidence did not rise: %.3f <= %.3f", second.Confidence, first.Confidence)
	}
}

func TestRepeatedFeedbackCountsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.seed(t, "match-1", "omítka stropů", testsupport.CodeCeilingPlaster, 0.6)

	fb := kb.Feedback{MatchID: rec.MatchID, Confirmed: true}
	if queued, err := e.recorder.Record(ctx, fb); err != nil || !queued {
		t.Fatalf("first Record = %v, %v", queued, err)
	}
	if queued, err := e.recorder.Record(ctx, fb); err != nil || queued {
		t.Fatalf("second Record should be a no-op, got %v, %v", queued, err)
	}
	if _, err := e.recorder.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if queued, err := e.recorder.Record(ctx, fb); err != nil || queued {
		t.Fatalf("processed feedback must not be queued again, got %v, %v", queued, err)
	}
	if n, err := e.recorder.ProcessPending(ctx); err != nil || n != 0 {
		t.Fatalf("ProcessPending after redelivery = %d, %v", n, err)
	}

	m := e.mapping(t, rec)
	if m.UsageCount != 2 {
		t.Fatalf("usage_count = %d, want 2", m.UsageCount)
	}
	if m.Source != kb.KindConfirm || m.Confidence <= 0.6 {
		t.Fatalf("confirmation not applied: %+v", m)
	}
}

func TestCorrectionToCodeOutsideCatalogIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.seed(t, "match-2", "omítka stropů", testsupport.CodeCeilingPlaster, 0.6)

	if _, err := e.recorder.Record(ctx, kb.Feedback{MatchID: rec.MatchID, CorrectedCode: "999-999"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := e.recorder.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if got := e.outcome(t, rec.MatchID); got != kb.OutcomeSkipped {
		t.Fatalf("outcome = %q, want skipped", got)
	}
	if m := e.mapping(t, rec); m.Code != testsupport.CodeCeilingPlaster {
		t.Fatalf("mapping changed to %s", m.Code)
	}
}

func TestRejectionDemotesMapping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.seed(t, "match-3", "dlažba keramická", testsupport.CodeTiles, 0.8)

	if _, err := e.recorder.Record(ctx, kb.Feedback{MatchID: rec.MatchID}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := e.recorder.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if got := e.outcome(t, rec.MatchID); got != kb.OutcomeRejected {
		t.Fatalf("outcome = %q", got)
	}
	if m := e.mapping(t, rec); m.Confidence != 0.4 {
		t.Fatalf("confidence = %.3f, want 0.4", m.Confidence)
	}
}

func TestRejectingFuzzyHitDemotesServingMapping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orch := e.orchestrator(t, verify.Verdict{Code: verify.NoMatchCode, Confidence: 0.5})

	stored := e.norm.Normalize("omítka vápenocementová stěn vnitřních hladká štuková")
	servingKey := kb.CacheKey(stored.Text, nil)
	if _, err := e.kb.Insert(ctx, kb.Write{
		CacheKey: servingKey, NormalizedText: stored.Text, Language: stored.Language,
		Code: testsupport.CodeTiles, VersionID: e.version.ID, Confidence: 0.97, Kind: kb.KindConfirm,
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	const text = "omítka vápenocementová stěn vnitřních hladká štukové"
	first, err := orch.Match(ctx, resolve.Request{Text: text})
	if err != nil {
		t.Fatalf("first Match: %v", err)
	}
	if first.Source != resolve.SourceKB || first.Code != testsupport.CodeTiles {
		t.Fatalf("expected fuzzy kb hit, got %+v", first)
	}
	rec, err := e.kb.GetMatch(ctx, first.MatchID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if rec.CacheKey == servingKey || rec.ServedCacheKey != servingKey || rec.ServedVersionID != e.version.ID {
		t.Fatalf("match record must name the serving mapping: %+v", rec)
	}

	if _, err := e.recorder.Record(ctx, kb.Feedback{MatchID: first.MatchID}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if n, err := e.recorder.ProcessPending(ctx); err != nil || n != 1 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	if got := e.outcome(t, first.MatchID); got != kb.OutcomeRejected {
		t.Fatalf("outcome = %q", got)
	}
	m, err := e.kb.Get(ctx, servingKey, e.version.ID)
	if err != nil {
		t.Fatalf("Get serving mapping: %v", err)
	}
	if m.Confidence > 0.97/2+1e-9 {
		t.Fatalf("serving mapping confidence = %.3f, want halved", m.Confidence)
	}

	second, err := orch.Match(ctx, resolve.Request{Text: text})
	if err != nil {
		t.Fatalf("second Match: %v", err)
	}
	if second.Source == resolve.SourceKB && second.Confidence >= first.Confidence {
		t.Fatalf("rejected mapping still served at %.3f: %+v", second.Confidence, second)
	}
}

func TestPlanRejectionTargetsServingKey(t *testing.T) {
	rec := &kb.MatchRecord{
		MatchID: "m1", CacheKey: "request", VersionID: "v1", Code: "771-001", Source: "kb",
		ServedCacheKey: "stored", ServedVersionID: "v1",
	}
	effect := feedback.Plan(rec, kb.Feedback{MatchID: "m1"}, false)
	if effect.Demote == nil || effect.Demote.CacheKey != "stored" || effect.Demote.VersionID != "v1" {
		t.Fatalf("expected demotion of the serving mapping, got %+v", effect.Demote)
	}
}

func TestUnknownMatchIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.recorder.Record(ctx, kb.Feedback{MatchID: "missing", Confirmed: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := e.recorder.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if got := e.outcome(t, "missing"); got != kb.OutcomeSkipped {
		t.Fatalf("outcome = %q", got)
	}
}

func TestRecordRequiresMatchID(t *testing.T) {
	e := newEnv(t)
	if _, err := e.recorder.Record(context.Background(), kb.Feedback{MatchID: "  ", Confirmed: true}); !errors.Is(err, feedback.ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback, got %v", err)
	}
}

func TestWorkersDrainInbox(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	recs := []kb.MatchRecord{
		e.seed(t, "match-a", "omítka stropů", testsupport.CodeCeilingPlaster, 0.6),
		e.seed(t, "match-b", "dlažba keramická", testsupport.CodeTiles, 0.7),
	}

	if err := e.recorder.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.recorder.Stop)
	if err := e.recorder.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	for _, rec := range recs {
		if _, err := e.recorder.Record(ctx, kb.Feedback{MatchID: rec.MatchID, Confirmed: true}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, rec := range recs {
		for {
			outcome, err := e.kb.FeedbackOutcome(ctx, rec.MatchID)
			if err == nil {
				if outcome != kb.OutcomeConfirmed {
					t.Fatalf("outcome for %s = %q", rec.MatchID, outcome)
				}
				break
			}
			if !errors.Is(err, kb.ErrNotFound) {
				t.Fatalf("FeedbackOutcome: %v", err)
			}
			if time.Now().After(deadline) {
				t.Fatalf("feedback %s not processed in time", rec.MatchID)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
