package kb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/sqlitedb"
)

// CleanupPolicy bounds the knowledge base as catalogs rotate.
type CleanupPolicy struct {
	// LiveVersionIDs are the non-archived catalog versions. Mappings for any
	// other version are removed. A nil slice skips orphan removal.
	LiveVersionIDs []string
	// Retention removes mappings unused for longer than this. Zero disables it.
	Retention time.Duration
	// Now defaults to time.Now.
	Now time.Time
}

// CleanupResult counts removed rows.
type CleanupResult struct {
	OrphanedMappings  int64 `json:"orphaned_mappings"`
	StaleMappings     int64 `json:"stale_mappings"`
	MatchRecords      int64 `json:"match_records"`
	ProcessedFeedback int64 `json:"processed_feedback"`
}

// Cleanup removes mappings whose catalog version is gone, mappings unused
// past the retention window, and match log and processed-feedback rows older
// than the window.
func (s *Store) Cleanup(ctx context.Context, policy CleanupPolicy) (CleanupResult, error) {
	now := policy.Now
	if now.IsZero() {
		now = time.Now()
	}
	var result CleanupResult
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		result = CleanupResult{}
		if policy.LiveVersionIDs != nil {
			query := "DELETE FROM kb_mappings"
			args := make([]any, 0, len(policy.LiveVersionIDs))
			if len(policy.LiveVersionIDs) > 0 {
				query += " WHERE version_id NOT IN (" + sqlitedb.Placeholders(len(policy.LiveVersionIDs)) + ")"
				for _, id := range policy.LiveVersionIDs {
					args = append(args, id)
				}
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("remove orphaned mappings: %w", err)
			}
			result.OrphanedMappings, _ = res.RowsAffected()
		}

		if policy.Retention <= 0 {
			return nil
		}
		cutoff := sqlitedb.FormatTime(now.Add(-policy.Retention))
		res, err := tx.ExecContext(ctx, "DELETE FROM kb_mappings WHERE last_used_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("remove stale mappings: %w", err)
		}
		result.StaleMappings, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			"DELETE FROM match_log WHERE created_at < ? AND match_id NOT IN (SELECT match_id FROM feedback_inbox)", cutoff)
		if err != nil {
			return fmt.Errorf("remove old match records: %w", err)
		}
		result.MatchRecords, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, "DELETE FROM feedback_processed WHERE processed_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("remove old feedback markers: %w", err)
		}
		result.ProcessedFeedback, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	s.logger.Info("kb cleanup finished",
		logging.Int64("orphaned_mappings", result.OrphanedMappings),
		logging.Int64("stale_mappings", result.StaleMappings),
		logging.Int64("match_records", result.MatchRecords),
		logging.Int64("processed_feedback", result.ProcessedFeedback))
	return result, nil
}
