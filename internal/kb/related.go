package kb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/sqlitedb"
)

// Related item sources.
const (
	RelatedManual  = "manual"
	RelatedLearned = "learned"
)

// RelatedItems returns suggestions for code, strongest first.
func (s *Store) RelatedItems(ctx context.Context, code string, limit int) ([]Related, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		`SELECT code, related_code, strength, source FROM related_items
		 WHERE code = ? ORDER BY strength DESC, related_code LIMIT ?`, strings.TrimSpace(code), limit)
	if err != nil {
		return nil, fmt.Errorf("list related items: %w", err)
	}
	defer rows.Close()
	var out []Related
	for rows.Next() {
		var r Related
		if err := rows.Scan(&r.Code, &r.RelatedCode, &r.Strength, &r.Source); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutRelated stores curated suggestion edges. Manual edges are never
// overwritten by learned ones.
func (s *Store) PutRelated(ctx context.Context, edges ...Related) error {
	now := sqlitedb.FormatTime(time.Now())
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, edge := range edges {
			code := strings.TrimSpace(edge.Code)
			related := strings.TrimSpace(edge.RelatedCode)
			if code == "" || related == "" || code == related {
				return fmt.Errorf("invalid related edge %q -> %q", edge.Code, edge.RelatedCode)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO related_items (code, related_code, strength, source, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(code, related_code) DO UPDATE SET strength = excluded.strength, source = excluded.source,
				 updated_at = excluded.updated_at`,
				code, related, clamp(edge.Strength, 0, 1), RelatedManual, now); err != nil {
				return fmt.Errorf("store related edge: %w", err)
			}
		}
		return nil
	})
}

// LearnRelated derives co-occurrence edges from the match log: two codes are
// related when they were resolved within the same project context at least
// minShared times. Strength is the shared count over the rarer code's count.
func (s *Store) LearnRelated(ctx context.Context, minShared int) (int, error) {
	if minShared < 1 {
		minShared = 2
	}
	rows, err := s.db.Query(ctx,
		`SELECT a.code, b.code, COUNT(DISTINCT a.context_hash)
		 FROM (SELECT DISTINCT context_hash, code FROM match_log WHERE context_hash != '' AND code != '') a
		 JOIN (SELECT DISTINCT context_hash, code FROM match_log WHERE context_hash != '' AND code != '') b
		   ON a.context_hash = b.context_hash AND a.code < b.code
		 GROUP BY a.code, b.code HAVING COUNT(DISTINCT a.context_hash) >= ?`, minShared)
	if err != nil {
		return 0, fmt.Errorf("compute co-occurrence: %w", err)
	}
	type pair struct {
		a, b   string
		shared int
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.a, &p.b, &p.shared); err != nil {
			rows.Close()
			return 0, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	freq := map[string]int{}
	freqRows, err := s.db.Query(ctx,
		"SELECT code, COUNT(DISTINCT context_hash) FROM match_log WHERE context_hash != '' AND code != '' GROUP BY code")
	if err != nil {
		return 0, fmt.Errorf("count code contexts: %w", err)
	}
	for freqRows.Next() {
		var (
			code  string
			count int
		)
		if err := freqRows.Scan(&code, &count); err != nil {
			freqRows.Close()
			return 0, err
		}
		freq[code] = count
	}
	freqRows.Close()
	if err := freqRows.Err(); err != nil {
		return 0, err
	}

	now := sqlitedb.FormatTime(time.Now())
	written := 0
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		written = 0
		for _, p := range pairs {
			rarer := min(freq[p.a], freq[p.b])
			if rarer == 0 {
				continue
			}
			strength := clamp(float64(p.shared)/float64(rarer), 0, 1)
			for _, edge := range [][2]string{{p.a, p.b}, {p.b, p.a}} {
				res, err := tx.ExecContext(ctx,
					`INSERT INTO related_items (code, related_code, strength, source, updated_at) VALUES (?, ?, ?, ?, ?)
					 ON CONFLICT(code, related_code) DO UPDATE SET strength = excluded.strength, updated_at = excluded.updated_at
					 WHERE related_items.source = ?`,
					edge[0], edge[1], strength, RelatedLearned, now, RelatedLearned)
				if err != nil {
					return fmt.Errorf("store learned edge: %w", err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					written++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("related items learned", logging.Int("edges", written), logging.Int("pairs", len(pairs)))
	return written, nil
}
