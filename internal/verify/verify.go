package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boqmatch/internal/matcher"
)

// NoMatchCode is the explicit answer for "none of the candidates fits".
const NoMatchCode = "NO_MATCH"

var (
	// ErrUnavailable wraps provider failures (network, timeout, unreadable answer).
	ErrUnavailable = errors.New("verifier unavailable")
	// ErrInconclusive is returned when a verifier cannot decide between candidates.
	ErrInconclusive = errors.New("verifier inconclusive")
	// ErrContractViolation is returned for verdicts naming a code outside the candidates.
	ErrContractViolation = errors.New("verifier returned a code outside the candidate set")
)

// Request is one verification.
type Request struct {
	Text       string
	Language   string
	Unit       string
	Context    map[string]string
	Candidates []matcher.Ranked
}

// Verdict is a verifier answer.
type Verdict struct {
	Code        string  `json:"code"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// NoMatch reports whether the verifier declined every candidate.
func (v Verdict) NoMatch() bool {
	return v.Code == NoMatchCode
}

// Verifier resolves a line item against a candidate shortlist.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, req Request) (Verdict, error)
}

// CheckCandidate returns nil when v names one of candidates or NoMatchCode,
// and an ErrContractViolation otherwise.
func CheckCandidate(v Verdict, candidates []matcher.Ranked) error {
	if v.NoMatch() {
		return nil
	}
	for _, candidate := range candidates {
		if candidate.Code.Code == v.Code {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrContractViolation, v.Code)
}

func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	switch strings.ToUpper(strings.ReplaceAll(code, "-", "_")) {
	case "", NoMatchCode, "NONE", "NULL":
		return NoMatchCode
	}
	return code
}
