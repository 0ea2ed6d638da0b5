package kb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
	"boqmatch/internal/textutil"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 2

// fuzzyScanLimit bounds how many prefix neighbours a fuzzy lookup compares.
const fuzzyScanLimit = 64

const mappingColumns = "cache_key, version_id, normalized_text, language, context_hash, code, confidence, usage_count, source, created_at, updated_at, last_used_at"

// Store is the persistent knowledge base: confirmed mappings, the match log,
// the feedback inbox and related-item suggestions.
type Store struct {
	db     *sqlitedb.DB
	opts   Options
	logger *slog.Logger

	lookups   atomic.Uint64
	exactHits atomic.Uint64
	fuzzyHits atomic.Uint64
	misses    atomic.Uint64
}

// Open initializes or connects to the knowledge base at path.
func Open(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "kb", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		opts:   opts.normalized(),
		logger: logging.NewComponentLogger(logger, "kb"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Options returns the tuning in effect.
func (s *Store) Options() Options {
	return s.opts
}

// Get is the point read by cache key within one catalog version.
func (s *Store) Get(ctx context.Context, cacheKey, versionID string) (*Mapping, error) {
	var mapping *Mapping
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRow(ctx, "SELECT "+mappingColumns+" FROM kb_mappings WHERE cache_key = ? AND version_id = ?", cacheKey, versionID)
		var scanErr error
		mapping, scanErr = scanMapping(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return mapping, nil
}

// Lookup tries the exact cache key first and then, on a miss, the closest
// mapping sharing the normalized-text prefix, language, context and version.
// Returns ErrNotFound on a miss.
func (s *Store) Lookup(ctx context.Context, q Query) (Hit, error) {
	s.lookups.Add(1)

	mapping, err := s.Get(ctx, q.CacheKey, q.VersionID)
	switch {
	case err == nil:
		s.exactHits.Add(1)
		metrics.KBLookups.WithLabelValues("exact").Inc()
		s.touch(ctx, mapping.CacheKey, mapping.VersionID)
		return Hit{Mapping: *mapping, Similarity: 1, Confidence: mapping.Confidence}, nil
	case !errors.Is(err, ErrNotFound):
		return Hit{}, err
	}

	hit, err := s.lookupFuzzy(ctx, q)
	if errors.Is(err, ErrNotFound) {
		s.misses.Add(1)
		metrics.KBLookups.WithLabelValues("miss").Inc()
		return Hit{}, ErrNotFound
	}
	if err != nil {
		return Hit{}, err
	}
	s.fuzzyHits.Add(1)
	metrics.KBLookups.WithLabelValues("fuzzy").Inc()
	s.touch(ctx, hit.Mapping.CacheKey, hit.Mapping.VersionID)
	return hit, nil
}

func (s *Store) lookupFuzzy(ctx context.Context, q Query) (Hit, error) {
	text := strings.TrimSpace(q.NormalizedText)
	runes := []rune(text)
	if len(runes) < s.opts.FuzzyPrefixRunes {
		return Hit{}, ErrNotFound
	}
	prefix := escapeLike(string(runes[:s.opts.FuzzyPrefixRunes])) + "%"

	rows, err := s.db.Query(ctx,
		"SELECT "+mappingColumns+` FROM kb_mappings
		 WHERE version_id = ? AND language = ? AND context_hash = ? AND normalized_text LIKE ? ESCAPE '\'
		 ORDER BY confidence DESC LIMIT ?`,
		q.VersionID, q.Language, q.ContextHash, prefix, fuzzyScanLimit)
	if err != nil {
		return Hit{}, fmt.Errorf("fuzzy lookup: %w", err)
	}
	defer rows.Close()

	var (
		best     Hit
		bestSeen bool
	)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return Hit{}, fmt.Errorf("scan mapping: %w", err)
		}
		sim := textutil.EditSimilarity(text, mapping.NormalizedText)
		if sim < s.opts.FuzzyMinSimilarity {
			continue
		}
		score := mapping.Confidence * sim
		if !bestSeen || score > best.Confidence {
			best = Hit{Mapping: *mapping, Fuzzy: true, Similarity: sim, Confidence: score}
			bestSeen = true
		}
	}
	if err := rows.Err(); err != nil {
		return Hit{}, err
	}
	if !bestSeen {
		return Hit{}, ErrNotFound
	}
	return best, nil
}

// touch records that a mapping served a request. Failures only cost
// retention accuracy.
func (s *Store) touch(ctx context.Context, cacheKey, versionID string) {
	_, err := s.db.Exec(ctx, "UPDATE kb_mappings SET last_used_at = ? WHERE cache_key = ? AND version_id = ?",
		sqlitedb.FormatTime(time.Now()), cacheKey, versionID)
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("kb touch failed", logging.Error(err))
	}
}

// DistinctVersionIDs returns every catalog version id referenced by a mapping.
func (s *Store) DistinctVersionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT DISTINCT version_id FROM kb_mappings ORDER BY version_id")
	if err != nil {
		return nil, fmt.Errorf("list mapping versions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func scanMapping(scanner sqlitedb.Scanner) (*Mapping, error) {
	var (
		m                          Mapping
		source                     string
		created, updated, lastUsed string
	)
	if err := scanner.Scan(&m.CacheKey, &m.VersionID, &m.NormalizedText, &m.Language, &m.ContextHash,
		&m.Code, &m.Confidence, &m.UsageCount, &source, &created, &updated, &lastUsed); err != nil {
		return nil, err
	}
	m.Source = Kind(source)
	m.CreatedAt, _ = sqlitedb.ParseTime(created)
	m.UpdatedAt, _ = sqlitedb.ParseTime(updated)
	m.LastUsedAt, _ = sqlitedb.ParseTime(lastUsed)
	return &m, nil
}
