package textnorm

import (
	"sort"

	"golang.org/x/text/language"
)

// concept lists the folded (lowercase, diacritic-free) spelling of one
// construction term per language, plus extra spellings that should map to it.
type concept struct {
	terms  map[string]string
	extras []string
}

var concepts = []concept{
	{terms: map[string]string{"cs": "beton", "sk": "beton", "de": "beton", "en": "concrete", "pl": "beton"}},
	{terms: map[string]string{"cs": "bedneni", "sk": "debnenie", "de": "schalung", "en": "formwork", "pl": "deskowanie"}, extras: []string{"shuttering"}},
	{terms: map[string]string{"cs": "vyztuz", "sk": "vystuz", "de": "bewehrung", "en": "reinforcement", "pl": "zbrojenie"}, extras: []string{"rebar", "armatura"}},
	{terms: map[string]string{"cs": "zdivo", "sk": "murivo", "de": "mauerwerk", "en": "masonry", "pl": "murowanie"}},
	{terms: map[string]string{"cs": "omitka", "sk": "omietka", "de": "putz", "en": "plaster", "pl": "tynk"}, extras: []string{"render", "plastering"}},
	{terms: map[string]string{"cs": "vykop", "sk": "vykop", "de": "aushub", "en": "excavation", "pl": "wykop"}},
	{terms: map[string]string{"cs": "izolace", "sk": "izolacia", "de": "dammung", "en": "insulation", "pl": "izolacja"}},
	{terms: map[string]string{"cs": "hydroizolace", "sk": "hydroizolacia", "de": "abdichtung", "en": "waterproofing", "pl": "hydroizolacja"}},
	{terms: map[string]string{"cs": "nater", "sk": "nater", "de": "anstrich", "en": "paint", "pl": "malowanie"}, extras: []string{"painting", "coating"}},
	{terms: map[string]string{"cs": "poter", "sk": "poter", "de": "estrich", "en": "screed", "pl": "wylewka"}},
	{terms: map[string]string{"cs": "strecha", "sk": "strecha", "de": "dach", "en": "roof", "pl": "dach"}, extras: []string{"roofing"}},
	{terms: map[string]string{"cs": "okno", "sk": "okno", "de": "fenster", "en": "window", "pl": "okno"}, extras: []string{"windows"}},
	{terms: map[string]string{"cs": "dvere", "sk": "dvere", "de": "tur", "en": "door", "pl": "drzwi"}, extras: []string{"doors", "turen"}},
	{terms: map[string]string{"cs": "ocel", "sk": "ocel", "de": "stahl", "en": "steel", "pl": "stal"}},
	{terms: map[string]string{"cs": "cihla", "sk": "tehla", "de": "ziegel", "en": "brick", "pl": "cegla"}, extras: []string{"bricks"}},
	{terms: map[string]string{"cs": "zaklady", "sk": "zaklady", "de": "fundament", "en": "foundation", "pl": "fundament"}, extras: []string{"foundations", "fundamente"}},
	{terms: map[string]string{"cs": "bourani", "sk": "buranie", "de": "abbruch", "en": "demolition", "pl": "rozbiorka"}},
	{terms: map[string]string{"cs": "potrubi", "sk": "potrubie", "de": "rohr", "en": "pipe", "pl": "rura"}, extras: []string{"pipes", "piping", "rohre"}},
	{terms: map[string]string{"cs": "kabel", "sk": "kabel", "de": "kabel", "en": "cable", "pl": "kabel"}, extras: []string{"cables"}},
	{terms: map[string]string{"cs": "drevo", "sk": "drevo", "de": "holz", "en": "timber", "pl": "drewno"}, extras: []string{"wood"}},
	{terms: map[string]string{"cs": "sadrokarton", "sk": "sadrokarton", "de": "gipskarton", "en": "plasterboard"}, extras: []string{"drywall"}},
	{terms: map[string]string{"cs": "leseni", "sk": "lesenie", "de": "gerust", "en": "scaffolding", "pl": "rusztowanie"}},
	{terms: map[string]string{"cs": "sterk", "sk": "strk", "de": "kies", "en": "gravel", "pl": "zwir"}},
	{terms: map[string]string{"cs": "pisek", "sk": "piesok", "de": "sand", "en": "sand", "pl": "piasek"}},
	{terms: map[string]string{"cs": "zasyp", "sk": "zasyp", "de": "verfullung", "en": "backfill", "pl": "zasypka"}},
}

// buildGlossary maps every known spelling to the working-language term.
// Concepts without a working-language term are skipped.
func buildGlossary(working string) map[string]string {
	glossary := make(map[string]string)
	for _, c := range concepts {
		target, ok := c.terms[working]
		if !ok {
			continue
		}
		for _, term := range c.terms {
			glossary[term] = target
		}
		for _, extra := range c.extras {
			glossary[extra] = target
		}
		glossary[target] = target
	}
	return glossary
}

func langTagFor(code string) language.Tag {
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und
	}
	return tag
}

// GlossaryTerms returns every spelling the glossary knows, sorted.
func GlossaryTerms() []string {
	seen := map[string]struct{}{}
	for _, c := range concepts {
		for _, term := range c.terms {
			seen[term] = struct{}{}
		}
		for _, extra := range c.extras {
			seen[extra] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
