package textnorm_test

import (
	"testing"

	"boqmatch/internal/textnorm"
)

func newNormalizer() *textnorm.Normalizer {
	return textnorm.New(textnorm.Options{WorkingLanguage: "cs", Languages: []string{"cs", "sk", "de", "en", "pl"}})
}

func TestNormalizeStripsNoise(t *testing.T) {
	n := newNormalizer()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"czech diacritics and grade", "Beton C25/30 do základů", "beton c25/30 do zakladu"},
		{"quantities and units", "Omítka vnitřní 125,5 m2", "omitka vnitrni"},
		{"superscript unit", "Zdivo  tl. 300 mm  12 m²", "zdivo tl"},
		{"room reference", "Byt 12 - podlaha, pokoj 1.05", "podlaha"},
		{"room marker without number stays", "pokoj hostu", "pokoj hostu"},
		{"german glossary", "Schalung für Fundamente 4 Stk", "bedneni fur zaklady"},
		{"english glossary", "Concrete foundation, 2 pcs", "beton zaklady"},
		{"polish letters", "Tynk ścian, 40 szt", "omitka scian"},
		{"dimensions", "Okno 1200x1500 mm", "okno"},
		{"collapses whitespace", "  beton \t\n  prostý ", "beton prosty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.in).Text
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeWithoutTokensReturnsTrimmedInput(t *testing.T) {
	n := newNormalizer()
	for _, in := range []string{"  12,5 m2 ", "---", "5 ks"} {
		res := n.Normalize(in)
		want := trim(in)
		if res.Text != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, res.Text, want)
		}
	}
	if res := n.Normalize("   "); res.Text != "" || res.Language != textnorm.LanguageUnknown {
		t.Fatalf("unexpected result for blank input: %+v", res)
	}
}

func trim(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newNormalizer()
	inputs := []string{
		"Beton C25/30 do základů",
		"pokoj m2 b3 omítka",
		"byt byt 5 podlaha",
		"Schalung für Fundamente 4 Stk",
		"ŁAŃCUCH stalowy 3×4 m",
		"12 m2",
		"",
		"   ",
		"Ｆｕｌｌｗｉｄｔｈ ｔｅｘｔ",
		"room 1.05 - skirting board / MDF 80mm",
		"Ø 110 PVC-U trubka",
		"Straße, Gehweg; Pflaster",
		"%%%",
		"m.b. lišta",
		"Rohr DN 100, 6 lfm",
	}
	for _, in := range inputs {
		once := n.Normalize(in).Text
		twice := n.Normalize(once).Text
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	a := newNormalizer()
	b := newNormalizer()
	in := "Hydroizolace spodní stavby 45 m2"
	if a.Normalize(in) != b.Normalize(in) {
		t.Fatalf("expected identical results from separate normalizers")
	}
}

func TestDetectLanguage(t *testing.T) {
	n := newNormalizer()
	tests := []struct {
		in   string
		want string
	}{
		{"Beton C25/30 do základů", "cs"},
		{"Vnitřní omítka stěn včetně penetrace", "cs"},
		{"Vonkajšia omietka vrátane lešenia", "sk"},
		{"Schalung für Fundamente und Wände", "de"},
		{"Concrete for the foundations including formwork", "en"},
		{"Tynk ścian wraz z gruntowaniem", "pl"},
		{"C25/30", textnorm.LanguageUnknown},
	}
	for _, tt := range tests {
		if got := n.Normalize(tt.in).Language; got != tt.want {
			t.Fatalf("language of %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectOnlyReportsConfiguredLanguages(t *testing.T) {
	n := textnorm.New(textnorm.Options{WorkingLanguage: "cs", Languages: []string{"cs", "en"}})
	if got := n.Normalize("Schalung für Fundamente und Wände").Language; got != textnorm.LanguageUnknown {
		t.Fatalf("expected unknown for unconfigured language, got %q", got)
	}
}

func TestGlossaryTargetsAreStable(t *testing.T) {
	for _, working := range []string{"cs", "sk", "de", "en", "pl"} {
		n := textnorm.New(textnorm.Options{WorkingLanguage: working})
		for _, term := range textnorm.GlossaryTerms() {
			mapped := n.Text(term)
			if again := n.Text(mapped); again != mapped {
				t.Fatalf("working=%s: glossary term %q maps to %q which maps to %q", working, term, mapped, again)
			}
		}
	}
}
