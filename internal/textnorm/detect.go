package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

type languageProfile struct {
	// distinctive letters score higher than letters shared with neighbours.
	distinctive string
	shared      string
	stopwords   map[string]struct{}
}

func words(list ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, w := range list {
		out[w] = struct{}{}
	}
	return out
}

var profiles = map[string]languageProfile{
	"cs": {
		distinctive: "ěřů",
		shared:      "áčďéíňóšťúýž",
		stopwords:   words("a", "na", "do", "ve", "v", "z", "ze", "pro", "se", "je", "vcetne", "včetně", "nebo", "od", "po", "s", "k", "u", "dle", "při"),
	},
	"sk": {
		distinctive: "äôľĺŕ",
		shared:      "áčďéíňóšťúýž",
		stopwords:   words("a", "na", "do", "vo", "v", "z", "zo", "pre", "so", "je", "vrátane", "alebo", "od", "po", "s", "k", "u", "podľa", "pri"),
	},
	"pl": {
		distinctive: "ąęłńśźż",
		shared:      "óć",
		stopwords:   words("i", "w", "z", "na", "do", "dla", "oraz", "od", "po", "ze", "we", "lub", "przy", "wraz"),
	},
	"de": {
		distinctive: "ßü",
		shared:      "äö",
		stopwords:   words("und", "der", "die", "das", "mit", "für", "von", "aus", "zum", "zur", "inkl", "im", "in", "auf", "oder", "bis", "den", "des"),
	},
	"en": {
		stopwords: words("the", "and", "of", "with", "for", "to", "including", "incl", "in", "on", "or", "from", "by", "at"),
	},
	"fr": {
		distinctive: "èêàçœ",
		shared:      "éâîôù",
		stopwords:   words("le", "la", "les", "de", "des", "du", "et", "pour", "avec", "en", "sur", "y", "compris"),
	},
}

// Detect guesses the language of raw text among the configured locales.
// Text without any distinctive letters or stopwords is tagged "unknown".
func (n *Normalizer) Detect(raw string) string {
	lower := cases.Lower(langTagFor(n.working)).String(raw)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	best := LanguageUnknown
	bestScore := 0
	for _, code := range n.languages {
		profile, ok := profiles[code]
		if !ok {
			continue
		}
		score := 0
		for _, r := range lower {
			switch {
			case strings.ContainsRune(profile.distinctive, r):
				score += 3
			case strings.ContainsRune(profile.shared, r):
				score++
			}
		}
		for _, token := range tokens {
			if _, ok := profile.stopwords[token]; ok {
				score += 2
			}
		}
		// Ties keep the earlier configured language.
		if score > bestScore {
			best = code
			bestScore = score
		}
	}
	return best
}
