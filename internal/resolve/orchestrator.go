package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"boqmatch/internal/catalog"
	"boqmatch/internal/classify"
	"boqmatch/internal/kb"
	"boqmatch/internal/logging"
	"boqmatch/internal/matcher"
	"boqmatch/internal/metrics"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/verify"
)

const (
	maxTextRunes    = 2000
	resultShortlist = 5
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Normalizer *textnorm.Normalizer
	Catalog    CatalogReader
	KB         KnowledgeBase
	Classifier classify.Classifier
	Matcher    *matcher.Matcher
	// Verifier may be nil; low-confidence requests then degrade.
	Verifier verify.Verifier
}

// Orchestrator composes the tiers into Match. It is safe for concurrent use.
type Orchestrator struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	flights singleflight.Group
}

// New constructs an orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("resolve: normalizer is required")
	case deps.Catalog == nil:
		return nil, errors.New("resolve: catalog is required")
	case deps.KB == nil:
		return nil, errors.New("resolve: knowledge base is required")
	case deps.Classifier == nil:
		return nil, errors.New("resolve: classifier is required")
	case deps.Matcher == nil:
		return nil, errors.New("resolve: matcher is required")
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts.normalized(),
		logger: logging.NewComponentLogger(logger, "resolver"),
	}, nil
}

// request carries per-request state through the stages.
type request struct {
	Request
	matchID  string
	snap     *catalog.Snapshot
	norm     textnorm.Result
	cacheKey string
	ctxHash  string
	// served is the KB mapping that answered the request, if any.
	served *kb.Mapping
	logger *slog.Logger
	result *Result
}

func (r *request) enter(stage Stage) {
	r.result.Stages = append(r.result.Stages, stage)
}

// Match resolves one line item. It returns ErrInvalidInput for unusable
// text, catalog.ErrNoActiveCatalog when nothing is active, and the context
// error when the caller gave up. Everything else yields a result.
func (o *Orchestrator) Match(ctx context.Context, in Request) (*Result, error) {
	start := time.Now()
	text := strings.TrimSpace(in.Text)
	switch {
	case text == "":
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	case !utf8.ValidString(text):
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	case utf8.RuneCountInString(text) > maxTextRunes:
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidInput, maxTextRunes)
	}

	snap, err := o.deps.Catalog.Active(ctx)
	if err != nil {
		return nil, err
	}

	req := &request{Request: in, matchID: uuid.NewString(), snap: snap}
	ctx = logging.WithVersionID(logging.WithMatchID(ctx, req.matchID), snap.VersionID)
	req.logger = logging.WithContext(ctx, o.logger)
	req.norm = o.deps.Normalizer.Normalize(text)
	req.cacheKey = kb.CacheKey(req.norm.Text, in.Context)
	req.ctxHash = kb.ContextHash(in.Context)
	req.result = &Result{
		MatchID:        req.matchID,
		VersionID:      snap.VersionID,
		Language:       req.norm.Language,
		NormalizedText: req.norm.Text,
		Related:        []kb.Related{},
	}
	req.enter(StageNormalized)

	if err := o.resolve(ctx, req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req.enter(StageResult)
	o.persist(ctx, req)

	result := req.result
	metrics.MatchesTotal.WithLabelValues(string(result.Source)).Inc()
	metrics.MatchDuration.WithLabelValues(string(result.Source)).Observe(time.Since(start).Seconds())
	req.logger.Info("line item resolved",
		logging.String("source", string(result.Source)),
		logging.String("code", result.Code),
		logging.Float64("confidence", result.Confidence),
		logging.Bool("degraded", result.Degraded),
		logging.Bool("no_match", result.NoMatch),
		logging.Int("candidates", result.CandidatesConsidered),
		logging.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req *request) error {
	prior, accepted := o.checkKB(ctx, req)
	req.enter(StageKBChecked)
	if accepted {
		return nil
	}

	sections, err := o.deps.Classifier.Classify(ctx, req.snap, req.norm.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req.logger.Debug("classification failed; scanning all sections", logging.Error(err))
		sections = req.snap.Sections()
	}
	req.result.Sections = sections
	req.enter(StageClassified)

	candidates := req.snap.InSections(sections...)
	if len(candidates) == 0 {
		candidates = req.snap.Codes()
	}
	query := matcher.Query{Text: req.norm.Text, Unit: req.Unit}
	candidates = o.deps.Matcher.Narrow(req.snap, query, candidates, o.opts.MaxCandidates)
	req.result.CandidatesConsidered = len(candidates)

	ranked := o.deps.Matcher.Rank(req.snap, query, candidates)
	req.result.Shortlist = ranked[:min(len(ranked), resultShortlist)]
	req.enter(StageLocalMatched)
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(ranked) == 0 {
		req.result.Source = SourceClassifier
		req.result.NoMatch = true
		req.result.Explanation = "catalog has no candidate codes"
		return nil
	}
	top := ranked[0]
	if top.Score >= o.opts.LocalAcceptThreshold {
		o.accept(req, top.Code, top.Score, SourceClassifier,
			fmt.Sprintf("local match %.2f >= %.2f among %d candidates in %s", top.Score, o.opts.LocalAcceptThreshold, len(candidates), strings.Join(sections, ", ")))
		req.logger.Debug("tier escalation", logging.Args(logging.DecisionAttrs("tier_escalation", "local_accepted", fmt.Sprintf("score %.2f", top.Score))...)...)
		return nil
	}
	req.logger.Debug("tier escalation", logging.Args(logging.DecisionAttrs("tier_escalation", "verify",
		fmt.Sprintf("score %.2f below %.2f", top.Score, o.opts.LocalAcceptThreshold))...)...)
	if prior != nil {
		req.logger.Debug("low-confidence knowledge base mapping ignored",
			logging.String("code", prior.Mapping.Code), logging.Float64("confidence", prior.Confidence))
	}
	return o.verify(ctx, req, ranked)
}

// checkKB returns the hit (if any) and whether it was accepted as the result.
func (o *Orchestrator) checkKB(ctx context.Context, req *request) (*kb.Hit, bool) {
	hit, err := o.deps.KB.Lookup(ctx, kb.Query{
		CacheKey:       req.cacheKey,
		NormalizedText: req.norm.Text,
		Language:       req.norm.Language,
		ContextHash:    req.ctxHash,
		VersionID:      req.snap.VersionID,
	})
	switch {
	case errors.Is(err, kb.ErrNotFound):
		return nil, false
	case err != nil:
		if ctx.Err() == nil {
			logging.WarnWithContext(req.logger, "knowledge base lookup failed", "kb_lookup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kb.db integrity and disk space"),
				logging.String(logging.FieldImpact, "request resolved without tier-1 cache"))
		}
		return nil, false
	}
	code, ok := req.snap.Lookup(hit.Mapping.Code)
	if !ok {
		req.logger.Debug("knowledge base mapping references unknown code", logging.String("code", hit.Mapping.Code))
		return nil, false
	}
	if hit.Confidence < o.opts.KBAcceptThreshold {
		return &hit, false
	}
	kind := "exact"
	if hit.Fuzzy {
		kind = fmt.Sprintf("fuzzy (similarity %.2f)", hit.Similarity)
	}
	o.accept(req, code, hit.Confidence, SourceKB,
		fmt.Sprintf("%s knowledge base mapping, used %d times", kind, hit.Mapping.UsageCount))
	req.served = &hit.Mapping
	return &hit, true
}

func (o *Orchestrator) accept(req *request, code catalog.Code, confidence float64, source Source, explanation string) {
	r := req.result
	r.Code = code.Code
	r.Name = code.Name
	r.Unit = code.Unit
	r.Section = code.Section
	r.Confidence = min(max(confidence, 0), 1)
	r.Source = source
	r.Explanation = explanation
}

var degradeExplanations = map[string]string{
	DegradedVerifierTimeout:      "verifier timed out",
	DegradedVerifierError:        "verifier unavailable",
	DegradedVerifierInconclusive: "verifier could not decide",
	DegradedContractViolation:    "verifier answer discarded (code outside candidates)",
	DegradedNoVerifier:           "no verifier configured",
}

// degrade answers with the best local candidate at a lowered confidence.
func (o *Orchestrator) degrade(req *request, top matcher.Ranked, reason string, cause error) {
	metrics.DegradedTotal.WithLabelValues(reason).Inc()
	o.accept(req, top.Code, top.Score*o.opts.DegradePenalty, SourceClassifier,
		fmt.Sprintf("%s; best local match %.2f returned with confidence penalty", degradeExplanations[reason], top.Score))
	req.result.Degraded = true
	req.result.DegradedReason = reason
	attrs := []logging.Attr{
		logging.String("reason", reason),
		logging.String("code", top.Code.Code),
		logging.String(logging.FieldErrorHint, "check verifier provider health and verifier.timeout_ms"),
		logging.String(logging.FieldImpact, "returned best local match with lowered confidence"),
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
	}
	logging.WarnWithContext(req.logger, "verification degraded", "verification_degraded", attrs...)
}
