package kb

import (
	"context"
	"fmt"
)

// Stats backs the kb/stats endpoint. Lookup counters cover the process
// lifetime; the remaining figures are read from the database.
type Stats struct {
	Lookups           uint64         `json:"lookups"`
	ExactHits         uint64         `json:"exact_hits"`
	FuzzyHits         uint64         `json:"fuzzy_hits"`
	Misses            uint64         `json:"misses"`
	HitRate           float64        `json:"hit_rate"`
	Mappings          int            `json:"mappings"`
	ByLanguage        map[string]int `json:"mappings_by_language"`
	ByVersion         map[string]int `json:"mappings_by_version"`
	BySource          map[string]int `json:"mappings_by_source"`
	MatchesBySource   map[string]int `json:"matches_by_source"`
	FeedbackPending   int            `json:"feedback_pending"`
	FeedbackProcessed map[string]int `json:"feedback_processed"`
	RelatedEdges      int            `json:"related_edges"`
}

// HitRate returns the share of lookups answered from the knowledge base since
// the store was opened.
func (s *Store) HitRate() float64 {
	lookups := s.lookups.Load()
	if lookups == 0 {
		return 0
	}
	return float64(s.exactHits.Load()+s.fuzzyHits.Load()) / float64(lookups)
}

// Stats collects cache statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Lookups:   s.lookups.Load(),
		ExactHits: s.exactHits.Load(),
		FuzzyHits: s.fuzzyHits.Load(),
		Misses:    s.misses.Load(),
		HitRate:   s.HitRate(),
	}

	var err error
	if stats.ByLanguage, err = s.groupCount(ctx, "SELECT language, COUNT(1) FROM kb_mappings GROUP BY language"); err != nil {
		return Stats{}, err
	}
	if stats.ByVersion, err = s.groupCount(ctx, "SELECT version_id, COUNT(1) FROM kb_mappings GROUP BY version_id"); err != nil {
		return Stats{}, err
	}
	if stats.BySource, err = s.groupCount(ctx, "SELECT source, COUNT(1) FROM kb_mappings GROUP BY source"); err != nil {
		return Stats{}, err
	}
	if stats.MatchesBySource, err = s.groupCount(ctx, "SELECT source, COUNT(1) FROM match_log GROUP BY source"); err != nil {
		return Stats{}, err
	}
	if stats.FeedbackProcessed, err = s.groupCount(ctx, "SELECT outcome, COUNT(1) FROM feedback_processed GROUP BY outcome"); err != nil {
		return Stats{}, err
	}
	for _, n := range stats.ByLanguage {
		stats.Mappings += n
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(1) FROM feedback_inbox").Scan(&stats.FeedbackPending); err != nil {
		return Stats{}, fmt.Errorf("count feedback inbox: %w", err)
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(1) FROM related_items").Scan(&stats.RelatedEdges); err != nil {
		return Stats{}, fmt.Errorf("count related items: %w", err)
	}
	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("kb stats: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}
