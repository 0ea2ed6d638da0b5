package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"boqmatch/internal/sqlitedb"
)

// RecordMatch persists the outcome of a match request.
func (s *Store) RecordMatch(ctx context.Context, rec MatchRecord) error {
	if rec.MatchID == "" {
		return errors.New("record match: match id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO match_log (match_id, cache_key, context_hash, normalized_text, language, code, version_id,
		 confidence, source, no_match, degraded, served_cache_key, served_version_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MatchID, rec.CacheKey, rec.ContextHash, rec.NormalizedText, rec.Language, rec.Code, rec.VersionID,
		rec.Confidence, rec.Source, sqlitedb.BoolToInt(rec.NoMatch), sqlitedb.BoolToInt(rec.Degraded),
		rec.ServedCacheKey, rec.ServedVersionID, sqlitedb.FormatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("record match: %w", err)
	}
	return nil
}

// GetMatch returns the match record for matchID.
func (s *Store) GetMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	var (
		rec               MatchRecord
		noMatch, degraded int
		created           string
	)
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRow(ctx,
			`SELECT match_id, cache_key, context_hash, normalized_text, language, code, version_id, confidence,
			 source, no_match, degraded, served_cache_key, served_version_id, created_at
			 FROM match_log WHERE match_id = ?`, matchID,
		).Scan(&rec.MatchID, &rec.CacheKey, &rec.ContextHash, &rec.NormalizedText, &rec.Language, &rec.Code,
			&rec.VersionID, &rec.Confidence, &rec.Source, &noMatch, &degraded, &rec.ServedCacheKey,
			&rec.ServedVersionID, &created)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("read match: %w", err)
	}
	rec.NoMatch = noMatch != 0
	rec.Degraded = degraded != 0
	rec.CreatedAt, _ = sqlitedb.ParseTime(created)
	return &rec, nil
}
