package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"boqmatch/internal/catalog"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/textutil"
)

const (
	editWeight     = 0.35
	overlapWeight  = 0.65
	substringBoost = 0.10
	unitBoost      = 0.03
	// cachedIndexes bounds how many catalog versions keep prepared names.
	cachedIndexes = 2
)

// Query is one line item to rank candidates against.
type Query struct {
	// Text is the normalized line item.
	Text string
	// Unit is the unit the request was priced in, if any.
	Unit string
}

// Ranked is a scored candidate.
type Ranked struct {
	Code  catalog.Code `json:"code"`
	Score float64      `json:"score"`
}

// Options configures a Matcher.
type Options struct {
	// Language selects the stemmer; it should be the normalizer's working language.
	Language string
	// ShortlistSize caps the ranked output.
	ShortlistSize int
}

// Matcher ranks candidate codes. It is safe for concurrent use.
type Matcher struct {
	normalizer *textnorm.Normalizer
	analyzer   *Analyzer
	shortlist  int

	mu      sync.Mutex
	indexes map[string]*index
	order   []string
}

type entry struct {
	joined string
	sorted string
	terms  []string
	unit   string
}

type index struct {
	entries sync.Map
}

// New constructs a Matcher that prepares catalog names with normalizer.
func New(normalizer *textnorm.Normalizer, opts Options) *Matcher {
	if opts.ShortlistSize <= 0 {
		opts.ShortlistSize = 10
	}
	language := opts.Language
	if language == "" && normalizer != nil {
		language = normalizer.WorkingLanguage()
	}
	return &Matcher{
		normalizer: normalizer,
		analyzer:   NewAnalyzer(language),
		shortlist:  opts.ShortlistSize,
		indexes:    make(map[string]*index),
	}
}

// Analyzer returns the term analyzer shared with the keyword classifier.
func (m *Matcher) Analyzer() *Analyzer {
	return m.analyzer
}

// Rank scores candidates against q and returns the best ShortlistSize of them,
// highest score first. Ties are broken by code so the order is stable.
// snap may be nil, in which case nothing is cached.
func (m *Matcher) Rank(snap *catalog.Snapshot, q Query, candidates []catalog.Code) []Ranked {
	if len(candidates) == 0 {
		return nil
	}
	query := m.prepare(q.Text, q.Unit)
	idx := m.indexFor(snap)

	ranked := make([]Ranked, 0, len(candidates))
	for _, code := range candidates {
		ranked = append(ranked, Ranked{Code: code, Score: score(query, m.entryFor(idx, code))})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Code.Code < ranked[j].Code.Code
	})
	if len(ranked) > m.shortlist {
		ranked = ranked[:m.shortlist]
	}
	return ranked
}

// Narrow keeps at most limit candidates for Rank, preferring those that share
// the most terms with q. Candidates with equal overlap keep their catalog
// order. The input is returned unchanged when it already fits.
func (m *Matcher) Narrow(snap *catalog.Snapshot, q Query, candidates []catalog.Code, limit int) []catalog.Code {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	query := m.prepare(q.Text, q.Unit)
	terms := make(map[string]struct{}, len(query.terms))
	for _, term := range query.terms {
		terms[term] = struct{}{}
	}
	idx := m.indexFor(snap)

	type shared struct {
		code  catalog.Code
		count int
	}
	scored := make([]shared, len(candidates))
	for i, code := range candidates {
		count := 0
		for _, term := range m.entryFor(idx, code).terms {
			if _, ok := terms[term]; ok {
				count++
			}
		}
		scored[i] = shared{code: code, count: count}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].count > scored[j].count })

	kept := make([]catalog.Code, limit)
	for i := range kept {
		kept[i] = scored[i].code
	}
	return kept
}

// Score returns the similarity of one candidate in [0,1].
func (m *Matcher) Score(q Query, code catalog.Code) float64 {
	return score(m.prepare(q.Text, q.Unit), m.entryFor(nil, code))
}

func score(query, candidate *entry) float64 {
	if query.joined == "" || candidate.joined == "" {
		return 0
	}
	// Candidate coverage keeps short catalog names competitive when every
	// one of their terms appears in a longer line item.
	overlap := (textutil.Dice(query.terms, candidate.terms) + textutil.Coverage(candidate.terms, query.terms)) / 2
	s := editWeight*textutil.EditSimilarity(query.sorted, candidate.sorted) + overlapWeight*overlap
	if strings.Contains(candidate.joined, query.joined) || strings.Contains(query.joined, candidate.joined) {
		s += substringBoost
	}
	if query.unit != "" && query.unit == candidate.unit {
		s += unitBoost
	}
	return min(max(s, 0), 1)
}

func (m *Matcher) prepare(text, unit string) *entry {
	tokens := m.analyzer.Tokens(text)
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	terms := make([]string, len(tokens))
	for i, token := range tokens {
		terms[i] = m.analyzer.Stem(token)
	}
	return &entry{
		joined: strings.Join(tokens, " "),
		sorted: strings.Join(sorted, " "),
		terms:  terms,
		unit:   foldUnit(unit),
	}
}

func (m *Matcher) entryFor(idx *index, code catalog.Code) *entry {
	if idx != nil {
		if cached, ok := idx.entries.Load(code.Code); ok {
			return cached.(*entry)
		}
	}
	name := code.Name
	if m.normalizer != nil {
		name = m.normalizer.Text(name)
	}
	prepared := m.prepare(name, code.Unit)
	if idx != nil {
		idx.entries.Store(code.Code, prepared)
	}
	return prepared
}

func (m *Matcher) indexFor(snap *catalog.Snapshot) *index {
	if snap == nil {
		return nil
	}
	key := fmt.Sprintf("%s@%d", snap.VersionID, snap.Generation)
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[key]; ok {
		return idx
	}
	idx := &index{}
	m.indexes[key] = idx
	m.order = append(m.order, key)
	for len(m.order) > cachedIndexes {
		delete(m.indexes, m.order[0])
		m.order = m.order[1:]
	}
	return idx
}

// foldUnit maps "m²", "M2" and " m2 " to "m2".
func foldUnit(unit string) string {
	unit = strings.ToLower(strings.TrimSpace(norm.NFKC.String(unit)))
	return strings.TrimSuffix(unit, ".")
}
