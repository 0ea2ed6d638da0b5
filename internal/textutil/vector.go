package textutil

import "math"

// Vector is a sparse term-weight vector over analyzed terms.
type Vector struct {
	weights map[string]float64
	norm    float64
}

// NewVector counts terms into a vector. It returns nil for no terms.
func NewVector(terms []string) *Vector {
	if len(terms) == 0 {
		return nil
	}
	weights := make(map[string]float64, len(terms))
	for _, term := range terms {
		weights[term]++
	}
	return newVector(weights)
}

func newVector(weights map[string]float64) *Vector {
	if len(weights) == 0 {
		return nil
	}
	var sum float64
	for _, w := range weights {
		sum += w * w
	}
	return &Vector{weights: weights, norm: math.Sqrt(sum)}
}

// Has reports whether term occurs in v.
func (v *Vector) Has(term string) bool {
	if v == nil {
		return false
	}
	_, ok := v.weights[term]
	return ok
}

// Len is the number of distinct terms.
func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.weights)
}

// Weighted multiplies each term by its idf weight. Terms missing from idf
// keep their count; terms weighted to zero are dropped.
func (v *Vector) Weighted(idf map[string]float64) *Vector {
	if v == nil || len(idf) == 0 {
		return v
	}
	out := make(map[string]float64, len(v.weights))
	for term, w := range v.weights {
		if f, ok := idf[term]; ok {
			w *= f
		}
		if w != 0 {
			out[term] = w
		}
	}
	return newVector(out)
}

// Cosine is the cosine similarity of a and b, 0 when either is empty.
func Cosine(a, b *Vector) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.weights) < len(a.weights) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a.weights {
		dot += w * b.weights[term]
	}
	return dot / (a.norm * b.norm)
}

// Corpus counts in how many documents each term occurs. In the keyword
// classifier a document is one catalog section.
type Corpus struct {
	docs int
	df   map[string]int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{df: make(map[string]int)}
}

// Add registers the distinct terms of v as one document.
func (c *Corpus) Add(v *Vector) {
	if v == nil {
		return
	}
	c.docs++
	for term := range v.weights {
		c.df[term]++
	}
}

// IDF returns smoothed inverse document frequencies, log((N+1)/(1+df)).
// A term present in every document weighs close to zero.
func (c *Corpus) IDF() map[string]float64 {
	if c.docs == 0 {
		return nil
	}
	n := float64(c.docs)
	idf := make(map[string]float64, len(c.df))
	for term, df := range c.df {
		idf[term] = math.Log((n + 1) / (1 + float64(df)))
	}
	return idf
}
