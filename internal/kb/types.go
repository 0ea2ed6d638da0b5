package kb

import (
	"errors"
	"time"

	"boqmatch/internal/config"
)

// ErrNotFound is returned when no mapping, match record or feedback exists.
var ErrNotFound = errors.New("kb: not found")

// Kind describes where a mapping write came from.
type Kind string

const (
	// KindAuto is an automatic write-back of a tier-2 or tier-3 resolution.
	KindAuto Kind = "auto"
	// KindConfirm is a human confirmation of a match.
	KindConfirm Kind = "confirm"
	// KindCorrection is a human correction to a different code.
	KindCorrection Kind = "correction"
)

// Mapping is a stored normalized_text → code resolution for one catalog version.
type Mapping struct {
	CacheKey       string    `json:"cache_key"`
	NormalizedText string    `json:"normalized_text"`
	Language       string    `json:"detected_language"`
	ContextHash    string    `json:"context_hash,omitempty"`
	Code           string    `json:"matched_code"`
	VersionID      string    `json:"version_id"`
	Confidence     float64   `json:"confidence"`
	UsageCount     int       `json:"usage_count"`
	Source         Kind      `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
}

// Query describes one tier-1 lookup.
type Query struct {
	CacheKey       string
	NormalizedText string
	Language       string
	ContextHash    string
	VersionID      string
}

// Hit is a successful lookup. Confidence is the mapping confidence, scaled by
// text similarity for fuzzy hits.
type Hit struct {
	Mapping    Mapping
	Fuzzy      bool
	Similarity float64
	Confidence float64
}

// Write is an upsert request.
type Write struct {
	CacheKey       string
	NormalizedText string
	Language       string
	ContextHash    string
	Code           string
	VersionID      string
	Confidence     float64
	Kind           Kind
}

// Write outcomes.
const (
	ActionInserted   = "inserted"
	ActionReinforced = "reinforced"
	ActionReplaced   = "replaced"
	ActionKept       = "kept"
	ActionDemoted    = "demoted"
)

// WriteResult reports what an upsert did.
type WriteResult struct {
	Action  string
	Mapping Mapping
}

// Related is an advisory co-occurrence edge between two codes.
type Related struct {
	Code        string  `json:"code"`
	RelatedCode string  `json:"related_code"`
	Strength    float64 `json:"relation_strength"`
	Source      string  `json:"source,omitempty"`
}

// MatchRecord is the persisted outcome of one match request. Feedback refers
// to it by MatchID; the raw request text is never stored.
type MatchRecord struct {
	MatchID        string    `json:"match_id"`
	CacheKey       string    `json:"cache_key"`
	ContextHash    string    `json:"context_hash,omitempty"`
	NormalizedText string    `json:"normalized_text"`
	Language       string    `json:"language"`
	Code           string    `json:"code"`
	VersionID      string    `json:"version_id"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	NoMatch        bool      `json:"no_match"`
	Degraded       bool      `json:"degraded"`
	// ServedCacheKey and ServedVersionID name the KB mapping that answered a
	// kb-sourced request. A fuzzy hit is served by a key other than CacheKey.
	ServedCacheKey  string    `json:"served_cache_key,omitempty"`
	ServedVersionID string    `json:"served_version_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Feedback is a human review of a match waiting in the inbox.
type Feedback struct {
	MatchID        string            `json:"match_id"`
	Confirmed      bool              `json:"confirmed"`
	CorrectedCode  string            `json:"corrected_code,omitempty"`
	ProjectContext map[string]string `json:"project_context,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
}

// Options tunes confidence arithmetic and fuzzy lookup.
type Options struct {
	ConfirmConfidence    float64
	CorrectionConfidence float64
	RecencyWeight        float64
	MaxAutoConfidence    float64
	FuzzyPrefixRunes     int
	FuzzyMinSimilarity   float64
	// MaxFeedbackAttempts moves feedback that keeps failing out of the inbox.
	MaxFeedbackAttempts int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ConfirmConfidence:    0.97,
		CorrectionConfidence: 0.95,
		RecencyWeight:        0.6,
		MaxAutoConfidence:    0.99,
		FuzzyPrefixRunes:     12,
		FuzzyMinSimilarity:   0.92,
		MaxFeedbackAttempts:  5,
	}
}

// OptionsFromConfig builds Options from the [kb] and [matching] sections.
func OptionsFromConfig(kbCfg config.KB, matching config.Matching) Options {
	return Options{
		ConfirmConfidence:    kbCfg.ConfirmConfidence,
		CorrectionConfidence: kbCfg.CorrectionConfidence,
		RecencyWeight:        kbCfg.RecencyWeight,
		MaxAutoConfidence:    kbCfg.MaxAutoConfidence,
		FuzzyPrefixRunes:     matching.FuzzyPrefixRunes,
		FuzzyMinSimilarity:   matching.FuzzyMinSimilarity,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ConfirmConfidence <= 0 || o.ConfirmConfidence > 1 {
		o.ConfirmConfidence = d.ConfirmConfidence
	}
	if o.CorrectionConfidence <= 0 || o.CorrectionConfidence > 1 {
		o.CorrectionConfidence = d.CorrectionConfidence
	}
	if o.RecencyWeight <= 0 || o.RecencyWeight > 1 {
		o.RecencyWeight = d.RecencyWeight
	}
	if o.MaxAutoConfidence <= 0 || o.MaxAutoConfidence > 1 {
		o.MaxAutoConfidence = d.MaxAutoConfidence
	}
	if o.FuzzyPrefixRunes <= 0 {
		o.FuzzyPrefixRunes = d.FuzzyPrefixRunes
	}
	if o.FuzzyMinSimilarity <= 0 || o.FuzzyMinSimilarity > 1 {
		o.FuzzyMinSimilarity = d.FuzzyMinSimilarity
	}
	if o.MaxFeedbackAttempts <= 0 {
		o.MaxFeedbackAttempts = d.MaxFeedbackAttempts
	}
	return o
}
