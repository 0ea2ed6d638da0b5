package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
)

// usageBonusStep rewards repeated agreement; capped after ten uses.
const usageBonusStep = 0.002

// Insert upserts a mapping. Repeating the same code raises usage and
// confidence; a different code only replaces the stored one when the write is
// a correction or carries at least the stored confidence. Automatic writes
// never replace a human-reviewed mapping.
func (s *Store) Insert(ctx context.Context, w Write) (WriteResult, error) {
	if err := validateWrite(w); err != nil {
		return WriteResult{}, err
	}
	var result WriteResult
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.upsertTx(ctx, tx, w, time.Now().UTC())
		return err
	})
	if err != nil {
		return WriteResult{}, err
	}
	s.logWrite(w, result)
	return result, nil
}

func validateWrite(w Write) error {
	switch {
	case strings.TrimSpace(w.CacheKey) == "":
		return errors.New("kb write: cache key is required")
	case strings.TrimSpace(w.VersionID) == "":
		return errors.New("kb write: version id is required")
	case strings.TrimSpace(w.Code) == "":
		return errors.New("kb write: code is required")
	}
	switch w.Kind {
	case KindAuto, KindConfirm, KindCorrection:
	default:
		return fmt.Errorf("kb write: unknown kind %q", w.Kind)
	}
	return nil
}

// nominal is the confidence a write carries on its own.
func (s *Store) nominal(w Write) float64 {
	var c float64
	switch w.Kind {
	case KindCorrection:
		c = s.opts.CorrectionConfidence
	case KindConfirm:
		c = max(w.Confidence, s.opts.ConfirmConfidence)
	default:
		c = w.Confidence
	}
	return clamp(c, 0, s.opts.MaxAutoConfidence)
}

// reinforce blends a repeated confirmation of the same code into the stored
// confidence, weighting the newest write by RecencyWeight and adding a small
// bonus per use. The result never drops below the stored value.
func (s *Store) reinforce(existing *Mapping, w Write, usage int) float64 {
	weight := s.opts.RecencyWeight
	blended := (1-weight)*existing.Confidence + weight*s.nominal(w)
	blended += usageBonusStep * float64(min(usage-1, 10))
	blended = max(blended, existing.Confidence)
	if w.Kind == KindCorrection {
		blended = max(blended, s.opts.CorrectionConfidence)
	}
	return clamp(blended, 0, s.opts.MaxAutoConfidence)
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, w Write, now time.Time) (WriteResult, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+mappingColumns+" FROM kb_mappings WHERE cache_key = ? AND version_id = ?", w.CacheKey, w.VersionID)
	existing, err := scanMapping(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return WriteResult{}, fmt.Errorf("read mapping: %w", err)
	}
	stamp := sqlitedb.FormatTime(now)

	if existing == nil {
		m := Mapping{
			CacheKey:       w.CacheKey,
			NormalizedText: w.NormalizedText,
			Language:       w.Language,
			ContextHash:    w.ContextHash,
			Code:           w.Code,
			VersionID:      w.VersionID,
			Confidence:     s.nominal(w),
			UsageCount:     1,
			Source:         w.Kind,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastUsedAt:     now,
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO kb_mappings ("+mappingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			m.CacheKey, m.VersionID, m.NormalizedText, m.Language, m.ContextHash, m.Code,
			m.Confidence, m.UsageCount, string(m.Source), stamp, stamp, stamp); err != nil {
			return WriteResult{}, fmt.Errorf("insert mapping: %w", err)
		}
		return WriteResult{Action: ActionInserted, Mapping: m}, nil
	}

	m := *existing
	action := ActionKept
	switch {
	case existing.Code == w.Code:
		m.UsageCount++
		m.Confidence = s.reinforce(existing, w, m.UsageCount)
		if w.Kind != KindAuto {
			m.Source = w.Kind
		}
		action = ActionReinforced
	case w.Kind == KindCorrection:
		m.Code = w.Code
		m.Confidence = s.nominal(w)
		m.UsageCount = 1
		m.Source = KindCorrection
		action = ActionReplaced
	case w.Kind == KindAuto && existing.Source != KindAuto:
		// Human-reviewed mappings are only changed by humans.
	case s.nominal(w) >= existing.Confidence:
		m.Code = w.Code
		m.Confidence = s.nominal(w)
		m.UsageCount = 1
		m.Source = w.Kind
		action = ActionReplaced
	}
	if action == ActionKept {
		return WriteResult{Action: action, Mapping: m}, nil
	}

	m.UpdatedAt = now
	m.LastUsedAt = now
	if w.NormalizedText != "" {
		m.NormalizedText = w.NormalizedText
	}
	if w.Language != "" {
		m.Language = w.Language
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE kb_mappings SET code = ?, confidence = ?, usage_count = ?, source = ?, normalized_text = ?, language = ?,
		 updated_at = ?, last_used_at = ? WHERE cache_key = ? AND version_id = ?`,
		m.Code, m.Confidence, m.UsageCount, string(m.Source), m.NormalizedText, m.Language,
		stamp, stamp, m.CacheKey, m.VersionID); err != nil {
		return WriteResult{}, fmt.Errorf("update mapping: %w", err)
	}
	return WriteResult{Action: action, Mapping: m}, nil
}

// demoteTx halves the confidence of a mapping that a reviewer rejected,
// provided it still points at the rejected code.
func (s *Store) demoteTx(ctx context.Context, tx *sql.Tx, cacheKey, versionID, code string, now time.Time) (WriteResult, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+mappingColumns+" FROM kb_mappings WHERE cache_key = ? AND version_id = ?", cacheKey, versionID)
	existing, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WriteResult{Action: ActionKept}, nil
	}
	if err != nil {
		return WriteResult{}, fmt.Errorf("read mapping: %w", err)
	}
	if existing.Code != code {
		return WriteResult{Action: ActionKept, Mapping: *existing}, nil
	}
	m := *existing
	m.Confidence = existing.Confidence / 2
	m.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		"UPDATE kb_mappings SET confidence = ?, updated_at = ? WHERE cache_key = ? AND version_id = ?",
		m.Confidence, sqlitedb.FormatTime(now), cacheKey, versionID); err != nil {
		return WriteResult{}, fmt.Errorf("demote mapping: %w", err)
	}
	return WriteResult{Action: ActionDemoted, Mapping: m}, nil
}

func (s *Store) logWrite(w Write, result WriteResult) {
	metrics.KBWrites.WithLabelValues(string(w.Kind)).Inc()
	s.logger.Debug("kb mapping written",
		logging.String("action", result.Action),
		logging.String("kind", string(w.Kind)),
		logging.String("code", result.Mapping.Code),
		logging.VersionID(w.VersionID),
		logging.Float64("confidence", result.Mapping.Confidence),
		logging.Int("usage_count", result.Mapping.UsageCount))
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
