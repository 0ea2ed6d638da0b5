package feedback

import (
	"fmt"
	"strings"

	"boqmatch/internal/kb"
)

// Plan decides what a review does to the knowledge base. rec is the match the
// review refers to (nil when unknown) and correctionExists reports whether a
// corrected code is present in the match's catalog version.
//
//   - A correction to a different code writes that code as a correction.
//   - A confirmation (or a "correction" to the same code) reinforces the
//     matched code.
//   - A rejection without a correction demotes the mapping that served the
//     match, which for a fuzzy KB hit is not the request's own key.
//
// Reviews that cannot change anything are skipped with a reason.
func Plan(rec *kb.MatchRecord, fb kb.Feedback, correctionExists bool) kb.Effect {
	effect := kb.Effect{MatchID: fb.MatchID, Outcome: kb.OutcomeSkipped}
	if rec == nil {
		effect.Detail = "unknown match id"
		return effect
	}
	corrected := strings.TrimSpace(fb.CorrectedCode)

	switch {
	case corrected != "" && corrected != rec.Code:
		if !correctionExists {
			effect.Detail = fmt.Sprintf("code %s is not in catalog version %s", corrected, rec.VersionID)
			return effect
		}
		effect.Outcome = kb.OutcomeCorrected
		effect.Write = writeFor(rec, corrected, kb.KindCorrection)
	case fb.Confirmed || corrected != "":
		if rec.Code == "" {
			effect.Detail = "no code to confirm"
			return effect
		}
		effect.Outcome = kb.OutcomeConfirmed
		effect.Write = writeFor(rec, rec.Code, kb.KindConfirm)
	default:
		if rec.Code == "" {
			effect.Detail = "no code to reject"
			return effect
		}
		effect.Outcome = kb.OutcomeRejected
		demote := &kb.Demotion{CacheKey: rec.CacheKey, VersionID: rec.VersionID, Code: rec.Code}
		if rec.ServedCacheKey != "" {
			demote.CacheKey, demote.VersionID = rec.ServedCacheKey, rec.ServedVersionID
		}
		effect.Demote = demote
	}
	return effect
}

func writeFor(rec *kb.MatchRecord, code string, kind kb.Kind) *kb.Write {
	return &kb.Write{
		CacheKey:       rec.CacheKey,
		NormalizedText: rec.NormalizedText,
		Language:       rec.Language,
		ContextHash:    rec.ContextHash,
		Code:           code,
		VersionID:      rec.VersionID,
		Confidence:     rec.Confidence,
		Kind:           kind,
	}
}
