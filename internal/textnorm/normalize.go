package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LanguageUnknown tags text whose language could not be attributed to a supported locale.
const LanguageUnknown = "unknown"

// maxPasses bounds the fixpoint loop. Each pass only removes or rewrites
// tokens, so real inputs settle after one or two passes.
const maxPasses = 8

// Result is the canonical form of a line item.
type Result struct {
	Text     string
	Language string
}

// Options configures a Normalizer.
type Options struct {
	// WorkingLanguage is the language glossary terms are rewritten into.
	WorkingLanguage string
	// Languages lists the locales the detector may report.
	Languages []string
}

// Normalizer canonicalizes free-text line items. It is safe for concurrent use.
type Normalizer struct {
	working   string
	languages []string
	glossary  map[string]string
}

// New builds a Normalizer. Language codes are canonicalized to their base
// ISO 639 form; unparseable codes are ignored.
func New(opts Options) *Normalizer {
	working := baseLanguage(opts.WorkingLanguage)
	if working == "" {
		working = "cs"
	}
	langs := make([]string, 0, len(opts.Languages))
	seen := map[string]struct{}{}
	for _, raw := range opts.Languages {
		code := baseLanguage(raw)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		langs = append(langs, code)
	}
	if len(langs) == 0 {
		langs = []string{"cs", "sk", "de", "en", "pl"}
	}
	return &Normalizer{
		working:   working,
		languages: langs,
		glossary:  buildGlossary(working),
	}
}

// WorkingLanguage returns the canonical working language code.
func (n *Normalizer) WorkingLanguage() string {
	return n.working
}

// Normalize returns the canonical text and detected language of raw. It never
// fails: input without any recognizable tokens is returned trimmed.
func (n *Normalizer) Normalize(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Text: "", Language: LanguageUnknown}
	}
	lang := n.Detect(trimmed)

	current := trimmed
	for range maxPasses {
		next := n.pass(current)
		if next == current {
			break
		}
		current = next
	}
	if current == "" {
		return Result{Text: trimmed, Language: lang}
	}
	return Result{Text: current, Language: lang}
}

// Text is shorthand for Normalize(raw).Text.
func (n *Normalizer) Text(raw string) string {
	return n.Normalize(raw).Text
}

func (n *Normalizer) pass(text string) string {
	folded := n.fold(text)
	tokens := tokenize(folded)
	tokens = dropRoomReferences(tokens)
	kept := tokens[:0]
	for _, token := range tokens {
		if isQuantity(token) || isUnitMarker(token) {
			continue
		}
		if mapped, ok := n.glossary[token]; ok {
			token = mapped
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

var specialLetters = strings.NewReplacer(
	"ł", "l", "Ł", "l",
	"ß", "ss",
	"ø", "o", "Ø", "o",
	"đ", "d", "Đ", "d",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
)

// fold lowercases, strips combining marks and applies compatibility
// decomposition so "m²" and "m2" compare equal.
func (n *Normalizer) fold(text string) string {
	text = specialLetters.Replace(text)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(stripped)
}

func tokenize(text string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '/', r == '.', r == ',', r == '-', r == '×':
			return r
		default:
			return ' '
		}
	}, text)
	fields := strings.Fields(mapped)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, ".,-/")
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}

var (
	unitPattern     = `(?:mm|cm|dm|m|m2|m3|km|ks|kus|kusu|pcs|pc|st|stk|stck|szt|kg|g|t|l|ml|h|hod|kpl|set|lfm|bm|mb|m\.b|%)`
	quantityRe      = regexp.MustCompile(`^\d+(?:[.,/]\d+)*(?:[x×]\d+(?:[.,]\d+)*)*` + unitPattern + `?$`)
	roomReferenceRe = regexp.MustCompile(`^(?:[a-z]?\d+(?:[.,/-]\d+)*[a-z]?)$`)
)

var unitMarkers = map[string]struct{}{
	"mm": {}, "cm": {}, "dm": {}, "m": {}, "m2": {}, "m3": {}, "km": {},
	"ks": {}, "kus": {}, "kusu": {}, "pcs": {}, "pc": {}, "st": {}, "stk": {}, "stck": {}, "szt": {},
	"kg": {}, "t": {}, "l": {}, "ml": {},
	"h": {}, "hod": {}, "kpl": {}, "lfm": {}, "bm": {}, "mb": {},
	"x": {}, "×": {},
}

func isQuantity(token string) bool {
	return quantityRe.MatchString(token)
}

func isUnitMarker(token string) bool {
	_, ok := unitMarkers[token]
	return ok
}

var roomMarkers = map[string]struct{}{
	// cs / sk
	"byt": {}, "pokoj": {}, "mistnost": {}, "miestnost": {}, "izba": {}, "m.c": {}, "c.m": {},
	// de
	"wohnung": {}, "zimmer": {}, "raum": {}, "whg": {},
	// en
	"room": {}, "apt": {}, "apartment": {}, "unit": {}, "flat": {},
	// pl
	"mieszkanie": {}, "pomieszczenie": {}, "lokal": {},
}

// dropRoomReferences removes a room or apartment marker together with the
// identifier that follows it ("byt 12", "room 1.05").
func dropRoomReferences(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if _, ok := roomMarkers[tokens[i]]; ok && i+1 < len(tokens) && roomReferenceRe.MatchString(tokens[i+1]) {
			i++
			continue
		}
		out = append(out, tokens[i])
	}
	return out
}

func baseLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
