package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"boqmatch/internal/services/llm"
)

type completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// CandidatePrompt is the system prompt of the model-backed verifier.
const CandidatePrompt = `You resolve a construction bill-of-quantities line item to a catalog code.

You receive the line item and a numbered list of candidate catalog entries.
Choose the single candidate that describes the same work or material.
You MUST answer with a code copied exactly from the candidate list.
If no candidate fits, answer with the code "NO_MATCH". Never invent a code.

Respond ONLY with JSON: {"code": "...", "confidence": 0.0-1.0, "explanation": "brief reason"}`

// LLM verifies with a chat completion model. Rate limiting is configured on
// the client.
type LLM struct {
	client        completer
	maxCandidates int
}

// NewLLM builds a model-backed verifier that shows at most maxCandidates.
func NewLLM(client completer, maxCandidates int) *LLM {
	if maxCandidates <= 0 {
		maxCandidates = 20
	}
	return &LLM{client: client, maxCandidates: maxCandidates}
}

// Name implements Verifier.
func (v *LLM) Name() string { return "llm" }

// Verify implements Verifier. The verdict is not checked against the
// candidates here; callers run CheckCandidate.
func (v *LLM) Verify(ctx context.Context, req Request) (Verdict, error) {
	if v.client == nil {
		return Verdict{}, fmt.Errorf("%w: no client", ErrUnavailable)
	}
	if len(req.Candidates) == 0 {
		return Verdict{Code: NoMatchCode, Explanation: "no candidates"}, nil
	}
	raw, err := v.client.CompleteJSON(ctx, CandidatePrompt, v.prompt(req))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return Verdict{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var verdict Verdict
	if err := llm.DecodeJSON(raw, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	verdict.Code = normalizeCode(verdict.Code)
	verdict.Confidence = min(max(verdict.Confidence, 0), 1)
	verdict.Explanation = strings.TrimSpace(verdict.Explanation)
	if verdict.Explanation == "" {
		verdict.Explanation = "model verdict"
	}
	return verdict, nil
}

func (v *LLM) prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Line item: %s\n", req.Text)
	if req.Language != "" {
		fmt.Fprintf(&b, "Detected language: %s\n", req.Language)
	}
	if req.Unit != "" {
		fmt.Fprintf(&b, "Unit: %s\n", req.Unit)
	}
	if len(req.Context) > 0 {
		keys := make([]string, 0, len(req.Context))
		for key := range req.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("Project context:\n")
		for _, key := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", key, req.Context[key])
		}
	}
	b.WriteString("\nCandidates:\n")
	for i, candidate := range req.Candidates {
		if i == v.maxCandidates {
			break
		}
		code := candidate.Code
		fmt.Fprintf(&b, "%d. code=%s | %s | unit=%s | section=%s\n", i+1, code.Code, code.Name, code.Unit, code.Section)
	}
	return b.String()
}

// IsUnavailable reports whether err means the verifier could not answer.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInconclusive)
}
