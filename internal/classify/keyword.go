package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"boqmatch/internal/catalog"
	"boqmatch/internal/matcher"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/textutil"
)

// Keyword is the dependency-free classifier. It is safe for concurrent use.
type Keyword struct {
	normalizer  *textnorm.Normalizer
	analyzer    *matcher.Analyzer
	maxSections int
	rules       []compiledRule

	mu    sync.Mutex
	vocab *vocabulary
}

type compiledRule struct {
	section string
	terms   [][]string
	weight  float64
}

type vocabulary struct {
	key      string
	idf      map[string]float64
	sections map[string]*textutil.Vector
}

// NewKeyword builds a keyword classifier. Rule keywords go through the same
// normalization as line items, so they may be written in any supported language.
func NewKeyword(normalizer *textnorm.Normalizer, analyzer *matcher.Analyzer, rules []Rule, maxSections int) *Keyword {
	if maxSections <= 0 {
		maxSections = 3
	}
	k := &Keyword{normalizer: normalizer, analyzer: analyzer, maxSections: maxSections}
	for _, rule := range rules {
		compiled := compiledRule{section: rule.Section, weight: rule.Weight}
		for _, keyword := range rule.Keywords {
			if terms := analyzer.Terms(normalizer.Text(keyword)); len(terms) > 0 {
				compiled.terms = append(compiled.terms, terms)
			}
		}
		if len(compiled.terms) > 0 {
			k.rules = append(k.rules, compiled)
		}
	}
	return k
}

// Name implements Classifier.
func (k *Keyword) Name() string { return "keyword" }

// Classify scores every section by cosine similarity between the text and the
// section vocabulary, adds rule weights, and returns the best sections. Text
// that matches nothing yields every section.
func (k *Keyword) Classify(_ context.Context, snap *catalog.Snapshot, text string) ([]string, error) {
	if snap == nil {
		return nil, errors.New("keyword classify: no catalog snapshot")
	}
	all := snap.Sections()
	if len(all) == 0 {
		return nil, ErrNoSections
	}

	terms := k.analyzer.Terms(text)
	if len(terms) == 0 {
		return all, nil
	}
	vocab := k.vocabularyFor(snap)
	query := textutil.NewVector(terms).Weighted(vocab.idf)

	scores := make(map[string]float64, len(all))
	for section, vec := range vocab.sections {
		if s := textutil.Cosine(query, vec); s > 0 {
			scores[section] = s
		}
	}
	present := textutil.NewVector(terms)
	for _, rule := range k.rules {
		if _, known := vocab.sections[rule.section]; !known {
			continue
		}
		for _, keyword := range rule.terms {
			if containsAll(present, keyword) {
				scores[rule.section] += rule.weight
				break
			}
		}
	}
	if len(scores) == 0 {
		return all, nil
	}

	ranked := make([]string, 0, len(scores))
	for section := range scores {
		ranked = append(ranked, section)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > k.maxSections {
		ranked = ranked[:k.maxSections]
	}
	return ranked, nil
}

func containsAll(vec *textutil.Vector, terms []string) bool {
	for _, term := range terms {
		if !vec.Has(term) {
			return false
		}
	}
	return true
}

// vocabularyFor returns the section vocabulary of snap, rebuilding it when
// the active version changed.
func (k *Keyword) vocabularyFor(snap *catalog.Snapshot) *vocabulary {
	key := fmt.Sprintf("%s@%d", snap.VersionID, snap.Generation)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.vocab != nil && k.vocab.key == key {
		return k.vocab
	}

	docs := make(map[string][]string)
	for _, code := range snap.Codes() {
		docs[code.Section] = append(docs[code.Section], k.analyzer.Terms(k.normalizer.Text(code.Name))...)
	}
	corpus := textutil.NewCorpus()
	raw := make(map[string]*textutil.Vector, len(docs))
	for section, terms := range docs {
		vec := textutil.NewVector(terms)
		raw[section] = vec
		corpus.Add(vec)
	}
	idf := corpus.IDF()
	vocab := &vocabulary{key: key, idf: idf, sections: make(map[string]*textutil.Vector, len(raw))}
	for section, vec := range raw {
		vocab.sections[section] = vec.Weighted(idf)
	}
	k.vocab = vocab
	return vocab
}
