package resolve

import (
	"context"
	"errors"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/config"
	"boqmatch/internal/kb"
	"boqmatch/internal/matcher"
)

// ErrInvalidInput is returned for blank, oversized or non-UTF-8 text.
var ErrInvalidInput = errors.New("invalid input")

// Source names the tier that produced a result.
type Source string

const (
	SourceKB         Source = "kb"
	SourceClassifier Source = "classifier"
	SourceVerifier   Source = "verifier"
)

// Stage is a step of the per-request state machine.
type Stage string

const (
	StageNormalized   Stage = "normalized"
	StageKBChecked    Stage = "kb_checked"
	StageClassified   Stage = "classified"
	StageLocalMatched Stage = "local_matched"
	StageVerified     Stage = "verified"
	StageResult       Stage = "result"
)

// Degradation reasons.
const (
	DegradedVerifierTimeout      = "verifier_timeout"
	DegradedVerifierError        = "verifier_error"
	DegradedVerifierInconclusive = "verifier_inconclusive"
	DegradedContractViolation    = "contract_violation"
	DegradedNoVerifier           = "no_verifier"
)

// Request is one line item to resolve.
type Request struct {
	Text     string            `json:"text"`
	Quantity *float64          `json:"quantity,omitempty"`
	Unit     string            `json:"unit,omitempty"`
	Context  map[string]string `json:"project_context,omitempty"`
}

// Result is the outcome of one match request.
type Result struct {
	MatchID              string           `json:"match_id"`
	Code                 string           `json:"code"`
	Name                 string           `json:"name,omitempty"`
	Unit                 string           `json:"unit,omitempty"`
	Section              string           `json:"section,omitempty"`
	Confidence           float64          `json:"confidence"`
	Source               Source           `json:"source"`
	NoMatch              bool             `json:"no_match"`
	Degraded             bool             `json:"degraded"`
	DegradedReason       string           `json:"degraded_reason,omitempty"`
	VersionID            string           `json:"version_id"`
	Language             string           `json:"language"`
	NormalizedText       string           `json:"normalized_text"`
	Sections             []string         `json:"sections,omitempty"`
	CandidatesConsidered int              `json:"candidates_considered"`
	Shortlist            []matcher.Ranked `json:"shortlist,omitempty"`
	Explanation          string           `json:"explanation"`
	Related              []kb.Related     `json:"related_items"`
	Stages               []Stage          `json:"stages"`
}

// Options is the escalation policy.
type Options struct {
	KBAcceptThreshold    float64
	LocalAcceptThreshold float64
	DegradePenalty       float64
	MaxCandidates        int
	VerifierCandidates   int
	VerifierTimeout      time.Duration
	WriteBack            bool
	RelatedLimit         int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		KBAcceptThreshold:    0.90,
		LocalAcceptThreshold: 0.85,
		DegradePenalty:       0.80,
		MaxCandidates:        5000,
		VerifierCandidates:   20,
		VerifierTimeout:      20 * time.Second,
		WriteBack:            true,
		RelatedLimit:         5,
	}
}

// OptionsFromConfig builds Options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		KBAcceptThreshold:    cfg.Matching.KBAcceptThreshold,
		LocalAcceptThreshold: cfg.Matching.LocalAcceptThreshold,
		DegradePenalty:       cfg.Matching.DegradePenalty,
		MaxCandidates:        cfg.Matching.MaxCandidates,
		VerifierCandidates:   cfg.Verifier.MaxCandidates,
		VerifierTimeout:      cfg.VerifierTimeout(),
		WriteBack:            cfg.Matching.WriteBack,
		RelatedLimit:         5,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.KBAcceptThreshold <= 0 || o.KBAcceptThreshold > 1 {
		o.KBAcceptThreshold = d.KBAcceptThreshold
	}
	if o.LocalAcceptThreshold <= 0 || o.LocalAcceptThreshold > 1 {
		o.LocalAcceptThreshold = d.LocalAcceptThreshold
	}
	if o.DegradePenalty <= 0 || o.DegradePenalty > 1 {
		o.DegradePenalty = d.DegradePenalty
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = d.MaxCandidates
	}
	if o.VerifierCandidates <= 0 {
		o.VerifierCandidates = d.VerifierCandidates
	}
	if o.VerifierTimeout <= 0 {
		o.VerifierTimeout = d.VerifierTimeout
	}
	if o.RelatedLimit <= 0 {
		o.RelatedLimit = d.RelatedLimit
	}
	return o
}

// CatalogReader yields the active catalog snapshot.
type CatalogReader interface {
	Active(ctx context.Context) (*catalog.Snapshot, error)
}

// KnowledgeBase is the subset of *kb.Store the orchestrator uses.
type KnowledgeBase interface {
	Lookup(ctx context.Context, q kb.Query) (kb.Hit, error)
	Insert(ctx context.Context, w kb.Write) (kb.WriteResult, error)
	RecordMatch(ctx context.Context, rec kb.MatchRecord) error
	RelatedItems(ctx context.Context, code string, limit int) ([]kb.Related, error)
}
