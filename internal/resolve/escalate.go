package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boqmatch/internal/kb"
	"boqmatch/internal/logging"
	"boqmatch/internal/matcher"
	"boqmatch/internal/metrics"
	"boqmatch/internal/verify"
)

type verification struct {
	verdict verify.Verdict
	err     error
}

func (o *Orchestrator) verify(ctx context.Context, req *request, ranked []matcher.Ranked) error {
	top := ranked[0]
	if o.deps.Verifier == nil {
		o.degrade(req, top, DegradedNoVerifier, nil)
		return nil
	}
	shortlist := ranked[:min(len(ranked), o.opts.VerifierCandidates)]

	outcome, err := o.runVerifier(ctx, req, shortlist)
	if err != nil {
		return err
	}
	req.enter(StageVerified)

	if outcome.err != nil {
		reason := DegradedVerifierError
		switch {
		case errors.Is(outcome.err, context.DeadlineExceeded):
			reason = DegradedVerifierTimeout
		case errors.Is(outcome.err, verify.ErrInconclusive):
			reason = DegradedVerifierInconclusive
		}
		metrics.VerifierCalls.WithLabelValues(reason).Inc()
		o.degrade(req, top, reason, outcome.err)
		return nil
	}

	verdict := outcome.verdict
	if err := verify.CheckCandidate(verdict, shortlist); err != nil {
		metrics.VerifierCalls.WithLabelValues("contract_violation").Inc()
		logging.WarnWithContext(req.logger, "verifier contract violation", "verifier_contract_violation",
			logging.Alert("verifier_contract_violation"),
			logging.String("verifier", o.deps.Verifier.Name()),
			logging.String("returned_code", verdict.Code),
			logging.Int("candidates", len(shortlist)),
			logging.String(logging.FieldErrorHint, "the verifier answered outside its candidate list; review the provider and prompt"),
			logging.String(logging.FieldImpact, "verifier answer discarded"))
		o.degrade(req, top, DegradedContractViolation, err)
		return nil
	}

	if verdict.NoMatch() {
		metrics.VerifierCalls.WithLabelValues("no_match").Inc()
		req.result.Source = SourceVerifier
		req.result.NoMatch = true
		req.result.Confidence = min(max(verdict.Confidence, 0), 1)
		req.result.Explanation = "verifier found no fitting candidate: " + verdict.Explanation
		req.logger.Info("verifier decision", logging.Args(logging.DecisionAttrs("verifier", "no_match", verdict.Explanation)...)...)
		return nil
	}

	metrics.VerifierCalls.WithLabelValues("accepted").Inc()
	code, _ := req.snap.Lookup(verdict.Code)
	o.accept(req, code, verdict.Confidence, SourceVerifier,
		fmt.Sprintf("%s verifier chose among %d candidates: %s", o.deps.Verifier.Name(), len(shortlist), verdict.Explanation))
	req.logger.Info("verifier decision", logging.Args(append(logging.DecisionAttrs("verifier", "accepted", verdict.Explanation),
		logging.String("code", verdict.Code),
		logging.Float64("confidence", verdict.Confidence))...)...)
	return nil
}

// runVerifier collapses identical concurrent verifications. The shared call
// is bounded by the verifier timeout and outlives a caller that gives up;
// that caller gets its context error.
func (o *Orchestrator) runVerifier(ctx context.Context, req *request, shortlist []matcher.Ranked) (verification, error) {
	key := req.snap.VersionID + "|" + req.cacheKey + "|" + req.Unit
	call := verify.Request{
		Text:       req.norm.Text,
		Language:   req.norm.Language,
		Unit:       req.Unit,
		Context:    req.Context,
		Candidates: shortlist,
	}
	ch := o.flights.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.VerifierTimeout)
		defer cancel()
		start := time.Now()
		verdict, err := o.deps.Verifier.Verify(callCtx, call)
		metrics.VerifierDuration.Observe(time.Since(start).Seconds())
		if err == nil && callCtx.Err() != nil {
			err = callCtx.Err()
		}
		return verification{verdict: verdict, err: err}, nil
	})
	select {
	case <-ctx.Done():
		return verification{}, ctx.Err()
	case res := <-ch:
		return res.Val.(verification), nil
	}
}

// persist records the match and, for confident automatic resolutions, writes
// the mapping back. Failures are logged; the caller still gets its result.
func (o *Orchestrator) persist(ctx context.Context, req *request) {
	r := req.result
	if o.opts.WriteBack && r.Code != "" && !r.Degraded && !r.NoMatch && r.Source != SourceKB {
		_, err := o.deps.KB.Insert(ctx, kb.Write{
			CacheKey:       req.cacheKey,
			NormalizedText: req.norm.Text,
			Language:       req.norm.Language,
			ContextHash:    req.ctxHash,
			Code:           r.Code,
			VersionID:      r.VersionID,
			Confidence:     r.Confidence,
			Kind:           kb.KindAuto,
		})
		if err != nil {
			logging.WarnWithContext(req.logger, "knowledge base write-back failed", "kb_write_back_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kb.db permissions and disk space"),
				logging.String(logging.FieldImpact, "identical requests keep using tier-2"))
		}
	}

	rec := kb.MatchRecord{
		MatchID:        r.MatchID,
		CacheKey:       req.cacheKey,
		ContextHash:    req.ctxHash,
		NormalizedText: r.NormalizedText,
		Language:       r.Language,
		Code:           r.Code,
		VersionID:      r.VersionID,
		Confidence:     r.Confidence,
		Source:         string(r.Source),
		NoMatch:        r.NoMatch,
		Degraded:       r.Degraded,
	}
	if req.served != nil {
		rec.ServedCacheKey = req.served.CacheKey
		rec.ServedVersionID = req.served.VersionID
	}
	err := o.deps.KB.RecordMatch(ctx, rec)
	if err != nil {
		logging.WarnWithContext(req.logger, "match record not stored", "match_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check kb.db permissions and disk space"),
			logging.String(logging.FieldImpact, "feedback for this match will be rejected"))
	}

	if r.Code == "" {
		return
	}
	related, err := o.deps.KB.RelatedItems(ctx, r.Code, o.opts.RelatedLimit)
	if err != nil {
		req.logger.Debug("related items unavailable", logging.Error(err))
		return
	}
	if related != nil {
		r.Related = related
	}
}
