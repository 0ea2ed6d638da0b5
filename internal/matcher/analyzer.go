package matcher

import (
	"strings"
	"sync"
	"unicode"

	"github.com/kljensen/snowball"
)

// prefixStemRunes is the truncation length for languages snowball does not cover.
const prefixStemRunes = 5

var snowballLanguages = map[string]string{
	"en": "english",
	"es": "spanish",
	"fr": "french",
	"ru": "russian",
	"sv": "swedish",
	"no": "norwegian",
	"nb": "norwegian",
	"hu": "hungarian",
}

// stopwords are folded function words of the supported locales.
var stopwords = map[string]struct{}{
	// cs / sk
	"a": {}, "i": {}, "k": {}, "ke": {}, "o": {}, "s": {}, "se": {}, "so": {}, "u": {}, "v": {}, "ve": {},
	"z": {}, "ze": {}, "do": {}, "na": {}, "od": {}, "po": {}, "pod": {}, "nad": {}, "pro": {}, "pre": {},
	"pri": {}, "za": {}, "vc": {}, "tl": {}, "vr": {}, "ci": {}, "nebo": {}, "alebo": {},
	// de
	"und": {}, "mit": {}, "fur": {}, "der": {}, "die": {}, "das": {}, "den": {}, "dem": {}, "von": {},
	"zu": {}, "im": {}, "in": {}, "aus": {}, "auf": {}, "inkl": {}, "bis": {},
	// en
	"the": {}, "of": {}, "for": {}, "and": {}, "with": {}, "to": {}, "on": {}, "at": {}, "by": {},
	"incl": {}, "including": {},
	// pl
	"w": {}, "we": {}, "dla": {}, "oraz": {}, "lub": {}, "przy": {},
}

// Analyzer turns normalized text into comparable terms. It is safe for
// concurrent use.
type Analyzer struct {
	snowball string
	stems    sync.Map
}

// NewAnalyzer builds an analyzer for the working language.
func NewAnalyzer(language string) *Analyzer {
	return &Analyzer{snowball: snowballLanguages[strings.ToLower(strings.TrimSpace(language))]}
}

// Tokens returns the significant tokens of normalized text in input order.
func (a *Analyzer) Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, stop := stopwords[field]; stop {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Terms returns the stems of the significant tokens.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokens(text)
	for i, token := range tokens {
		tokens[i] = a.Stem(token)
	}
	return tokens
}

// Stem reduces a token to its stem. Tokens carrying digits (grades,
// profiles) are kept verbatim.
func (a *Analyzer) Stem(token string) string {
	if cached, ok := a.stems.Load(token); ok {
		return cached.(string)
	}
	stem := a.stem(token)
	a.stems.Store(token, stem)
	return stem
}

func (a *Analyzer) stem(token string) string {
	if strings.IndexFunc(token, unicode.IsDigit) >= 0 {
		return token
	}
	if a.snowball != "" {
		if stemmed, err := snowball.Stem(token, a.snowball, true); err == nil && stemmed != "" {
			return stemmed
		}
	}
	runes := []rune(token)
	if len(runes) > prefixStemRunes {
		return string(runes[:prefixStemRunes])
	}
	return token
}
