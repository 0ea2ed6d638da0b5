package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
)

// Feedback outcomes recorded in feedback_processed.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeCorrected = "corrected"
	OutcomeRejected  = "rejected"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Effect is what applying one piece of feedback does to the mappings.
type Effect struct {
	MatchID string
	Outcome string
	Detail  string
	// Write is upserted when set.
	Write *Write
	// Demote halves the confidence of the mapping at (CacheKey, VersionID)
	// when it still points at Code.
	Demote *Demotion
}

// Demotion identifies a mapping a reviewer rejected.
type Demotion struct {
	CacheKey  string
	VersionID string
	Code      string
}

// EnqueueFeedback persists feedback in the inbox. It returns false when the
// match was already processed or is already waiting.
func (s *Store) EnqueueFeedback(ctx context.Context, fb Feedback) (bool, error) {
	fb.MatchID = strings.TrimSpace(fb.MatchID)
	if fb.MatchID == "" {
		return false, errors.New("enqueue feedback: match id is required")
	}
	if fb.ReceivedAt.IsZero() {
		fb.ReceivedAt = time.Now().UTC()
	}
	var contextJSON any
	if len(fb.ProjectContext) > 0 {
		payload, err := json.Marshal(fb.ProjectContext)
		if err != nil {
			return false, fmt.Errorf("encode project context: %w", err)
		}
		contextJSON = string(payload)
	}

	queued := false
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		queued = false
		var done int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM feedback_processed WHERE match_id = ?", fb.MatchID).Scan(&done); err != nil {
			return fmt.Errorf("check processed feedback: %w", err)
		}
		if done > 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO feedback_inbox (match_id, confirmed, corrected_code, project_context, received_at)
			 VALUES (?, ?, ?, ?, ?)`,
			fb.MatchID, sqlitedb.BoolToInt(fb.Confirmed), sqlitedb.NullableString(strings.TrimSpace(fb.CorrectedCode)),
			contextJSON, sqlitedb.FormatTime(fb.ReceivedAt))
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
		n, _ := res.RowsAffected()
		queued = n > 0
		return nil
	})
	return queued, err
}

// PendingFeedback returns up to limit inbox entries, oldest first.
func (s *Store) PendingFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT match_id, confirmed, corrected_code, project_context, received_at, attempts, last_error
		 FROM feedback_inbox ORDER BY received_at, match_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()
	var out []Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fb)
	}
	return out, rows.Err()
}

// PendingFeedbackFor returns the inbox entry for matchID.
func (s *Store) PendingFeedbackFor(ctx context.Context, matchID string) (*Feedback, error) {
	row := s.db.QueryRow(ctx,
		`SELECT match_id, confirmed, corrected_code, project_context, received_at, attempts, last_error
		 FROM feedback_inbox WHERE match_id = ?`, matchID)
	fb, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: feedback %s", ErrNotFound, matchID)
	}
	return fb, err
}

// FeedbackOutcome returns the recorded outcome for matchID, or ErrNotFound.
func (s *Store) FeedbackOutcome(ctx context.Context, matchID string) (string, error) {
	var outcome string
	err := s.db.QueryRow(ctx, "SELECT outcome FROM feedback_processed WHERE match_id = ?", matchID).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read feedback outcome: %w", err)
	}
	return outcome, nil
}

// ApplyFeedback applies effect exactly once per match id: the mapping change,
// the processed marker and the inbox removal commit together. It returns
// false when the match id was already processed.
func (s *Store) ApplyFeedback(ctx context.Context, effect Effect) (bool, WriteResult, error) {
	if effect.Write != nil {
		if err := validateWrite(*effect.Write); err != nil {
			return false, WriteResult{}, err
		}
	}
	var (
		applied bool
		result  WriteResult
	)
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		applied = false
		result = WriteResult{Action: ActionKept}
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO feedback_processed (match_id, outcome, detail, processed_at) VALUES (?, ?, ?, ?)",
			effect.MatchID, effect.Outcome, sqlitedb.NullableString(effect.Detail), sqlitedb.FormatTime(now))
		if err != nil {
			return fmt.Errorf("mark feedback processed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err := tx.ExecContext(ctx, "DELETE FROM feedback_inbox WHERE match_id = ?", effect.MatchID)
			return err
		}

		switch {
		case effect.Write != nil:
			result, err = s.upsertTx(ctx, tx, *effect.Write, now)
		case effect.Demote != nil:
			result, err = s.demoteTx(ctx, tx, effect.Demote.CacheKey, effect.Demote.VersionID, effect.Demote.Code, now)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM feedback_inbox WHERE match_id = ?", effect.MatchID); err != nil {
			return fmt.Errorf("remove feedback from inbox: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, WriteResult{}, err
	}
	if applied {
		metrics.FeedbackProcessed.WithLabelValues(effect.Outcome).Inc()
		if effect.Write != nil {
			s.logWrite(*effect.Write, result)
		}
	}
	return applied, result, nil
}

// FailFeedback records a processing failure. Once an entry exhausts its
// attempts it is moved to the processed table with outcome "failed".
func (s *Store) FailFeedback(ctx context.Context, matchID string, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	var exhausted bool
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		exhausted = false
		var attempts int
		err := tx.QueryRowContext(ctx, "SELECT attempts FROM feedback_inbox WHERE match_id = ?", matchID).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		attempts++
		if attempts < s.opts.MaxFeedbackAttempts {
			_, err = tx.ExecContext(ctx, "UPDATE feedback_inbox SET attempts = ?, last_error = ? WHERE match_id = ?", attempts, detail, matchID)
			return err
		}
		exhausted = true
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO feedback_processed (match_id, outcome, detail, processed_at) VALUES (?, ?, ?, ?)",
			matchID, OutcomeFailed, detail, sqlitedb.FormatTime(time.Now())); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM feedback_inbox WHERE match_id = ?", matchID)
		return err
	})
	if err != nil {
		return fmt.Errorf("record feedback failure: %w", err)
	}
	if exhausted {
		metrics.FeedbackProcessed.WithLabelValues(OutcomeFailed).Inc()
		logging.WarnWithContext(s.logger, "feedback dropped after repeated failures", "feedback_exhausted",
			logging.MatchID(matchID),
			logging.String("last_error", detail),
			logging.String(logging.FieldErrorHint, "check the match log and catalog for the referenced version"),
			logging.String(logging.FieldImpact, "this review will not update the knowledge base"))
	}
	return nil
}

func scanFeedback(scanner sqlitedb.Scanner) (*Feedback, error) {
	var (
		fb                               Feedback
		confirmed                        int
		corrected, contextRaw, lastError sql.NullString
		received                         string
	)
	if err := scanner.Scan(&fb.MatchID, &confirmed, &corrected, &contextRaw, &received, &fb.Attempts, &lastError); err != nil {
		return nil, err
	}
	fb.Confirmed = confirmed != 0
	fb.CorrectedCode = corrected.String
	fb.LastError = lastError.String
	fb.ReceivedAt, _ = sqlitedb.ParseTime(received)
	if contextRaw.Valid && contextRaw.String != "" {
		if err := json.Unmarshal([]byte(contextRaw.String), &fb.ProjectContext); err != nil {
			return nil, fmt.Errorf("decode project context: %w", err)
		}
	}
	return &fb, nil
}
