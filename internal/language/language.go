package language

import "strings"

// Unknown is reported for text whose language could not be detected.
const Unknown = "unknown"

type entry struct {
	code2   string   // ISO 639-1 (2-letter)
	code3   []string // ISO 639-2 terminologic and bibliographic forms
	display string   // English name
	words   []string // names as written in English and natively
}

var languages = []entry{
	{"cs", []string{"ces", "cze"}, "Czech", []string{"czech", "čeština", "cestina"}},
	{"sk", []string{"slk", "slo"}, "Slovak", []string{"slovak", "slovenčina", "slovencina"}},
	{"de", []string{"deu", "ger"}, "German", []string{"german", "deutsch"}},
	{"en", []string{"eng"}, "English", []string{"english"}},
	{"pl", []string{"pol"}, "Polish", []string{"polish", "polski"}},
	{"hu", []string{"hun"}, "Hungarian", []string{"hungarian", "magyar"}},
	{"sl", []string{"slv"}, "Slovenian", []string{"slovenian", "slovenščina"}},
	{"hr", []string{"hrv"}, "Croatian", []string{"croatian", "hrvatski"}},
}

var byKey map[string]*entry

func init() {
	byKey = make(map[string]*entry, len(languages)*5)
	for i := range languages {
		e := &languages[i]
		byKey[e.code2] = e
		for _, c := range e.code3 {
			byKey[c] = e
		}
		for _, w := range e.words {
			byKey[w] = e
		}
	}
}

func clean(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	// Region subtags ("cs-CZ", "de_AT") do not change the language.
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

// ToISO2 converts a recognized code or name to ISO 639-1. Unrecognized
// two-letter input passes through; anything else yields "".
func ToISO2(code string) string {
	code = clean(code)
	if e, ok := byKey[code]; ok {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// Known reports whether code names one of the mapped languages.
func Known(code string) bool {
	_, ok := byKey[clean(code)]
	return ok
}

// DisplayName returns the English name for code, "Unknown" for empty or
// undetected input and the uppercased code otherwise.
func DisplayName(code string) string {
	code = clean(code)
	if code == "" || code == Unknown {
		return "Unknown"
	}
	if e, ok := byKey[code]; ok {
		return e.display
	}
	return strings.ToUpper(code)
}

// NormalizeList maps every entry to ISO 639-1, dropping blanks, unrecognized
// entries and duplicates while keeping the first-seen order.
func NormalizeList(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		iso := ToISO2(code)
		if iso == "" {
			continue
		}
		if _, ok := seen[iso]; ok {
			continue
		}
		seen[iso] = struct{}{}
		normalized = append(normalized, iso)
	}
	return normalized
}
