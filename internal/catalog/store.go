package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

const versionColumns = "version_id, label, status, status_reason, code_count, validation_passed, validation_report, created_at, approved_at, activated_at, deactivated_at, archived_at, rejected_at"

// Store owns catalog versions and their codes.
type Store struct {
	db       *sqlitedb.DB
	policy   Policy
	logger   *slog.Logger
	snapshot atomic.Pointer[Snapshot]
	loads    singleflight.Group
}

// Open initializes or connects to the catalog database at path.
func Open(ctx context.Context, path string, policy Policy, logger *slog.Logger) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "catalog", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		policy: policy.normalized(),
		logger: logging.NewComponentLogger(logger, "catalog"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Policy returns the validation policy in effect.
func (s *Store) Policy() Policy {
	return s.policy
}

// Submit stores a new pending version and its validation report.
func (s *Store) Submit(ctx context.Context, sub Submission) (*Version, error) {
	in := prepare(sub)
	report := s.policy.validate(in)
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode validation report: %w", err)
	}

	version := &Version{
		ID:               uuid.NewString(),
		Label:            strings.TrimSpace(sub.Label),
		Status:           StatusPending,
		CodeCount:        len(in.codes),
		ValidationPassed: report.Passed,
		Report:           &report,
		CreatedAt:        time.Now().UTC(),
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_versions (version_id, label, status, code_count, validation_passed, validation_report, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			version.ID, sqlitedb.NullableString(version.Label), string(version.Status), version.CodeCount,
			sqlitedb.BoolToInt(report.Passed), string(reportJSON), sqlitedb.FormatTime(version.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO catalog_codes (version_id, code, name, unit, section) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare code insert: %w", err)
		}
		defer stmt.Close()
		for _, code := range in.codes {
			if _, err := stmt.ExecContext(ctx, version.ID, code.Code, code.Name, sqlitedb.NullableString(code.Unit), code.Section); err != nil {
				return fmt.Errorf("insert code %s: %w", code.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []logging.Attr{
		logging.VersionID(version.ID),
		logging.Int("code_count", version.CodeCount),
		logging.Bool("validation_passed", report.Passed),
	}
	if !report.Passed {
		attrs = append(attrs, logging.String("failed_rules", strings.Join(report.FailedRules(), ",")))
	}
	s.logger.Info("catalog version submitted", logging.Args(attrs...)...)
	metrics.CatalogTransitions.WithLabelValues(string(StatusPending)).Inc()
	return version, nil
}

// Get returns the version with id.
func (s *Store) Get(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRow(ctx, "SELECT "+versionColumns+" FROM catalog_versions WHERE version_id = ?", strings.TrimSpace(id))
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// List returns versions newest first. Archived versions are included only
// when includeArchived is set.
func (s *Store) List(ctx context.Context, includeArchived bool) ([]*Version, error) {
	query := "SELECT " + versionColumns + " FROM catalog_versions"
	if !includeArchived {
		query += " WHERE status != 'archived'"
	}
	query += " ORDER BY created_at DESC"
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// ActiveVersionID returns the id the active pointer references.
func (s *Store) ActiveVersionID(ctx context.Context) (string, error) {
	id, _, err := s.readPointer(ctx)
	return id, err
}

// CodeExists reports whether code exists in versionID. Archived versions are
// treated as absent.
func (s *Store) CodeExists(ctx context.Context, versionID, code string) (bool, error) {
	var count int
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRow(ctx,
			`SELECT COUNT(1) FROM catalog_codes c JOIN catalog_versions v ON v.version_id = c.version_id
			 WHERE c.version_id = ? AND c.code = ? AND v.status != 'archived'`,
			versionID, code,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return count > 0, nil
}

// LiveVersionIDs returns every non-archived version id.
func (s *Store) LiveVersionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT version_id FROM catalog_versions WHERE status != 'archived' ORDER BY version_id")
	if err != nil {
		return nil, fmt.Errorf("list live versions: %w", err)
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

// Codes returns all codes of a version ordered by code.
func (s *Store) Codes(ctx context.Context, versionID string) ([]Code, error) {
	rows, err := s.db.Query(ctx,
		"SELECT code, name, unit, section FROM catalog_codes WHERE version_id = ? ORDER BY code", versionID)
	if err != nil {
		return nil, fmt.Errorf("load codes: %w", err)
	}
	defer rows.Close()
	var codes []Code
	for rows.Next() {
		var (
			code Code
			unit sql.NullString
		)
		if err := rows.Scan(&code.Code, &code.Name, &unit, &code.Section); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		code.Unit = unit.String
		code.VersionID = versionID
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *Store) readPointer(ctx context.Context) (string, int64, error) {
	var (
		id  sql.NullString
		gen int64
	)
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRow(ctx, "SELECT version_id, generation FROM active_pointer WHERE id = 1").Scan(&id, &gen)
	})
	if err != nil {
		return "", 0, fmt.Errorf("read active pointer: %w", err)
	}
	if !id.Valid || id.String == "" {
		return "", gen, ErrNoActiveCatalog
	}
	return id.String, gen, nil
}

// Active returns the snapshot of the version the active pointer references
// right now. The pointer is re-read on every call so activations made by
// other processes are picked up; concurrent reloads of the same generation
// share one database read.
func (s *Store) Active(ctx context.Context) (*Snapshot, error) {
	id, gen, err := s.readPointer(ctx)
	if err != nil {
		return nil, err
	}
	if snap := s.snapshot.Load(); snap != nil && snap.VersionID == id && snap.Generation == gen {
		return snap, nil
	}

	key := fmt.Sprintf("%s@%d", id, gen)
	result, err, _ := s.loads.Do(key, func() (any, error) {
		codes, err := s.Codes(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		snap := NewSnapshot(id, gen, codes)
		s.publish(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// publish installs snap unless a newer generation is already cached.
func (s *Store) publish(snap *Snapshot) {
	for {
		current := s.snapshot.Load()
		if current != nil && current.Generation > snap.Generation {
			return
		}
		if s.snapshot.CompareAndSwap(current, snap) {
			metrics.CatalogActiveCodes.Set(float64(snap.Len()))
			s.logger.Debug("catalog snapshot loaded",
				logging.VersionID(snap.VersionID),
				logging.Int64("generation", snap.Generation),
				logging.Int("code_count", snap.Len()))
			return
		}
	}
}

func scanVersion(scanner sqlitedb.Scanner) (*Version, error) {
	var (
		id, status, createdRaw                                string
		label, reason, reportRaw                              sql.NullString
		approved, activated, deactivated, archived, rejected sql.NullString
		codeCount, passed                                     int
	)
	if err := scanner.Scan(&id, &label, &status, &reason, &codeCount, &passed, &reportRaw,
		&createdRaw, &approved, &activated, &deactivated, &archived, &rejected); err != nil {
		return nil, err
	}
	version := &Version{
		ID:               id,
		Label:            label.String,
		Status:           Status(status),
		StatusReason:     reason.String,
		CodeCount:        codeCount,
		ValidationPassed: passed != 0,
		ApprovedAt:       sqlitedb.TimePtr(approved),
		ActivatedAt:      sqlitedb.TimePtr(activated),
		DeactivatedAt:    sqlitedb.TimePtr(deactivated),
		ArchivedAt:       sqlitedb.TimePtr(archived),
		RejectedAt:       sqlitedb.TimePtr(rejected),
	}
	if created, err := sqlitedb.ParseTime(createdRaw); err == nil {
		version.CreatedAt = created
	}
	if reportRaw.Valid && reportRaw.String != "" {
		var report ValidationReport
		if err := json.Unmarshal([]byte(reportRaw.String), &report); err == nil {
			version.Report = &report
		}
	}
	return version, nil
}
