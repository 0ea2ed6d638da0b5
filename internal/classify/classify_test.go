package classify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/classify"
	"boqmatch/internal/matcher"
	"boqmatch/internal/testsupport"
	"boqmatch/internal/textnorm"
)

type stubClassifier struct {
	name     string
	sections []string
	err      error
	block    bool
	calls    int
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(ctx context.Context, _ *catalog.Snapshot, _ string) ([]string, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.sections, s.err
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) CompleteJSON(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func fixtures() (*catalog.Snapshot, *textnorm.Normalizer, *matcher.Analyzer) {
	n := textnorm.New(textnorm.Options{WorkingLanguage: "cs", Languages: []string{"cs", "sk", "de", "en", "pl"}})
	return catalog.NewSnapshot("v1", 1, testsupport.CatalogCodes()), n, matcher.NewAnalyzer("cs")
}

func TestKeywordClassifierFindsSection(t *testing.T) {
	snap, n, a := fixtures()
	k := classify.NewKeyword(n, a, nil, 3)

	sections, err := k.Classify(context.Background(), snap, n.Text("beton C25/30 do základů"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(sections) == 0 || sections[0] != "foundations" {
		t.Fatalf("expected foundations first, got %v", sections)
	}
}

func TestKeywordClassifierFallsBackToAllSections(t *testing.T) {
	snap, n, a := fixtures()
	k := classify.NewKeyword(n, a, nil, 3)

	for _, text := range []string{"qwerty zxcv", ""} {
		sections, err := k.Classify(context.Background(), snap, text)
		if err != nil {
			t.Fatalf("Classify(%q) failed: %v", text, err)
		}
		if len(sections) != len(testsupport.Sections()) {
			t.Fatalf("Classify(%q) = %v, want all sections", text, sections)
		}
	}
}

func TestKeywordRulesRouteUnknownVocabulary(t *testing.T) {
	snap, n, a := fixtures()
	rules, err := classify.ParseRules([]byte(`
rules:
  - section: masonry
    keywords: [Ziegel]
  - section: nonexistent
    keywords: [anything]
`))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if rules[0].Weight != 0.5 {
		t.Fatalf("expected default weight, got %v", rules[0].Weight)
	}
	k := classify.NewKeyword(n, a, rules, 3)

	sections, err := k.Classify(context.Background(), snap, n.Text("cihla plná"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(sections) != 1 || sections[0] != "masonry" {
		t.Fatalf("expected masonry from the rule, got %v", sections)
	}
}

func TestParseRulesRejectsIncompleteRules(t *testing.T) {
	cases := []string{
		"rules:\n  - keywords: [beton]\n",
		"rules:\n  - section: foundations\n    keywords: []\n",
		"rules: [",
	}
	for _, doc := range cases {
		if _, err := classify.ParseRules([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLLMClassifierKeepsKnownSections(t *testing.T) {
	snap, _, _ := fixtures()
	c := classify.NewLLM(stubCompleter{reply: "```json\n{\"sections\": [\"roofing\", \"plaster\", \"plaster\", \"floors\"]}\n```"}, 3)

	sections, err := c.Classify(context.Background(), snap, "omitka")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(sections) != 2 || sections[0] != "plaster" || sections[1] != "floors" {
		t.Fatalf("unexpected sections %v", sections)
	}

	c = classify.NewLLM(stubCompleter{reply: `{"sections": ["roofing"]}`}, 3)
	if _, err := c.Classify(context.Background(), snap, "strecha"); !errors.Is(err, classify.ErrNoSections) {
		t.Fatalf("expected ErrNoSections, got %v", err)
	}
}

func TestChainFallsBackOnTimeoutAndError(t *testing.T) {
	snap, _, _ := fixtures()
	fallback := &stubClassifier{name: "keyword", sections: []string{"masonry"}}

	tests := []struct {
		name    string
		primary *stubClassifier
	}{
		{"timeout", &stubClassifier{name: "llm", block: true}},
		{"error", &stubClassifier{name: "llm", err: errors.New("boom")}},
		{"empty", &stubClassifier{name: "llm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := classify.NewChain(tt.primary, fallback, 20*time.Millisecond, nil)
			sections, err := chain.Classify(context.Background(), snap, "zdivo")
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if len(sections) != 1 || sections[0] != "masonry" {
				t.Fatalf("expected fallback sections, got %v", sections)
			}
		})
	}
}

func TestChainNeverReturnsZeroSections(t *testing.T) {
	snap, _, _ := fixtures()
	chain := classify.NewChain(nil, &stubClassifier{name: "keyword", err: errors.New("broken")}, 0, nil)
	sections, err := chain.Classify(context.Background(), snap, "anything")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(sections) != len(snap.Sections()) {
		t.Fatalf("expected all sections, got %v", sections)
	}
}

func TestChainReturnsCallerCancellation(t *testing.T) {
	snap, _, _ := fixtures()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := classify.NewChain(&stubClassifier{name: "llm", block: true}, &stubClassifier{name: "keyword", sections: []string{"masonry"}}, time.Second, nil)
	if _, err := chain.Classify(ctx, snap, "zdivo"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
