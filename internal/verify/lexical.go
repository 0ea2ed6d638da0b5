package verify

import (
	"context"
	"fmt"

	"boqmatch/internal/matcher"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/textutil"
)

// Lexical is the dependency-free verifier. It accepts the best candidate
// only when every significant query term occurs in its name, its local score
// clears MinScore and it leads the runner-up by at least Margin.
type Lexical struct {
	normalizer *textnorm.Normalizer
	analyzer   *matcher.Analyzer
	minScore   float64
	margin     float64
}

// NewLexical builds a lexical verifier.
func NewLexical(normalizer *textnorm.Normalizer, analyzer *matcher.Analyzer, minScore, margin float64) *Lexical {
	return &Lexical{normalizer: normalizer, analyzer: analyzer, minScore: minScore, margin: margin}
}

// Name implements Verifier.
func (v *Lexical) Name() string { return "lexical" }

// Verify implements Verifier. Undecided requests return ErrInconclusive.
func (v *Lexical) Verify(ctx context.Context, req Request) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(req.Candidates) == 0 {
		return Verdict{Code: NoMatchCode, Explanation: "no candidates"}, nil
	}
	query := v.analyzer.Terms(req.Text)
	if len(query) == 0 {
		return Verdict{}, fmt.Errorf("%w: no significant terms", ErrInconclusive)
	}

	best := req.Candidates[0]
	runnerUp := 0.0
	if len(req.Candidates) > 1 {
		runnerUp = req.Candidates[1].Score
	}
	name := v.analyzer.Terms(v.normalizer.Text(best.Code.Name))
	coverage := textutil.Coverage(query, name)
	switch {
	case coverage < 1:
		return Verdict{}, fmt.Errorf("%w: best candidate covers %.0f%% of terms", ErrInconclusive, coverage*100)
	case best.Score < v.minScore:
		return Verdict{}, fmt.Errorf("%w: best score %.2f below %.2f", ErrInconclusive, best.Score, v.minScore)
	case best.Score-runnerUp < v.margin:
		return Verdict{}, fmt.Errorf("%w: margin %.2f below %.2f", ErrInconclusive, best.Score-runnerUp, v.margin)
	}
	return Verdict{
		Code:        best.Code.Code,
		Confidence:  best.Score,
		Explanation: fmt.Sprintf("all terms found in %q, lead %.2f over runner-up", best.Code.Name, best.Score-runnerUp),
	}, nil
}
