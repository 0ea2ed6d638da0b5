package catalog

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

func currentStatus(ctx context.Context, tx *sql.Tx, id string) (Status, bool, error) {
	var (
		status string
		passed int
	)
	err := tx.QueryRowContext(ctx, "SELECT status, validation_passed FROM catalog_versions WHERE version_id = ?", id).Scan(&status, &passed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	if err != nil {
		return "", false, fmt.Errorf("read version status: %w", err)
	}
	return Status(status), passed != 0, nil
}

// Approve moves a pending version whose validation passed to approved.
func (s *Store) Approve(ctx context.Context, id string) (*Version, error) {
	id = strings.TrimSpace(id)
	now := time.Now().UTC()
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		status, passed, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(status, StatusApproved) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusApproved)
		}
		if !passed {
			return fmt.Errorf("%w: %s", ErrValidationFailed, id)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE catalog_versions SET status = ?, approved_at = ? WHERE version_id = ?",
			string(StatusApproved), sqlitedb.FormatTime(now), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(id, StatusApproved, "manual")
	return s.Get(ctx, id)
}

// Reject marks a pending or approved version as rejected. Rejected versions
// are never auto-approved or activated.
func (s *Store) Reject(ctx context.Context, id, reason string) (*Version, error) {
	return s.simpleTransition(ctx, id, StatusRejected, "rejected_at", reason)
}

// Archive retires an inactive, approved or rejected version. Archived
// versions are kept for audit but excluded from lookups.
func (s *Store) Archive(ctx context.Context, id string) (*Version, error) {
	return s.simpleTransition(ctx, id, StatusArchived, "archived_at", "")
}

func (s *Store) simpleTransition(ctx context.Context, id string, to Status, column, reason string) (*Version, error) {
	id = strings.TrimSpace(id)
	now := time.Now().UTC()
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		status, _, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, to)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE catalog_versions SET status = ?, "+column+" = ?, status_reason = ? WHERE version_id = ?",
			string(to), sqlitedb.FormatTime(now), sqlitedb.NullableString(strings.TrimSpace(reason)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(id, to, reason)
	return s.Get(ctx, id)
}

// Activate makes id the active version. Demoting the previous active
// version, promoting id and moving the pointer happen in one transaction,
// so readers see either the old or the new version, never both or neither.
// Inactive versions may be re-activated to roll back.
func (s *Store) Activate(ctx context.Context, id string) (*Version, error) {
	id = strings.TrimSpace(id)
	now := sqlitedb.FormatTime(time.Now().UTC())
	var previous string
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		status, _, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(status, StatusActive) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusActive)
		}

		var current sql.NullString
		if err := tx.QueryRowContext(ctx, "SELECT version_id FROM active_pointer WHERE id = 1").Scan(&current); err != nil {
			return fmt.Errorf("read active pointer: %w", err)
		}
		previous = current.String

		if _, err := tx.ExecContext(ctx,
			"UPDATE catalog_versions SET status = ?, deactivated_at = ? WHERE status = ?",
			string(StatusInactive), now, string(StatusActive)); err != nil {
			return fmt.Errorf("demote active version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE catalog_versions SET status = ?, activated_at = ?, deactivated_at = NULL WHERE version_id = ?",
			string(StatusActive), now, id); err != nil {
			return fmt.Errorf("promote version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE active_pointer SET version_id = ?, generation = generation + 1, updated_at = ? WHERE id = 1",
			id, now); err != nil {
			return fmt.Errorf("swap active pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != "" && previous != id {
		s.logTransition(previous, StatusInactive, "superseded by "+id)
	}
	s.logTransition(id, StatusActive, "")
	if _, err := s.Active(ctx); err != nil {
		logging.WarnWithContext(s.logger, "snapshot reload after activation failed", "catalog_snapshot_reload_failed",
			logging.VersionID(id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next match request will retry the load"),
			logging.String(logging.FieldImpact, "first request after activation pays the load cost"))
	}
	return s.Get(ctx, id)
}

// AutoApprove approves every pending version that passed validation and was
// submitted at or before cutoff. Versions that were rejected are not pending
// and are therefore skipped.
func (s *Store) AutoApprove(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT version_id, created_at FROM catalog_versions WHERE status = ? AND validation_passed = 1 ORDER BY created_at",
		string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending versions: %w", err)
	}
	var due []string
	for rows.Next() {
		var id, createdRaw string
		if err := rows.Scan(&id, &createdRaw); err != nil {
			rows.Close()
			return nil, err
		}
		created, err := sqlitedb.ParseTime(createdRaw)
		if err != nil || created.After(cutoff) {
			continue
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	approved := make([]string, 0, len(due))
	for _, id := range due {
		if _, err := s.Approve(ctx, id); err != nil {
			// A concurrent manual reject wins.
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return approved, err
		}
		approved = append(approved, id)
		s.logger.Info("catalog version auto-approved",
			logging.Args(append(logging.DecisionAttrs("auto_approve", "approved", "pending past approval window"),
				logging.VersionID(id))...)...)
	}
	return approved, nil
}

func (s *Store) logTransition(id string, to Status, reason string) {
	metrics.CatalogTransitions.WithLabelValues(string(to)).Inc()
	attrs := []logging.Attr{
		logging.VersionID(id),
		logging.String("status", string(to)),
	}
	if reason != "" {
		attrs = append(attrs, logging.String("reason", reason))
	}
	s.logger.Info("catalog version status changed", logging.Args(attrs...)...)
}
