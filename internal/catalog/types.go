package catalog

import (
	"errors"
	"time"
)

// Status is a catalog version lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
	StatusRejected Status = "rejected"
)

var (
	// ErrNoActiveCatalog is returned when no version has been activated.
	ErrNoActiveCatalog = errors.New("no active catalog version")
	// ErrVersionNotFound is returned for unknown version ids.
	ErrVersionNotFound = errors.New("catalog version not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid catalog version transition")
	// ErrValidationFailed is returned when approving a version whose validation failed.
	ErrValidationFailed = errors.New("catalog version failed validation")
)

// transitions lists the allowed status changes. Demotion of the active
// version to inactive only happens inside Activate.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusActive, StatusRejected, StatusArchived},
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusActive, StatusArchived},
	StatusRejected: {StatusArchived},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Code is a single classification catalog entry.
type Code struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Unit      string `json:"unit,omitempty"`
	Section   string `json:"section"`
	VersionID string `json:"version_id,omitempty"`
}

// Version describes one imported catalog snapshot.
type Version struct {
	ID               string            `json:"version_id"`
	Label            string            `json:"label,omitempty"`
	Status           Status            `json:"status"`
	StatusReason     string            `json:"status_reason,omitempty"`
	CodeCount        int               `json:"code_count"`
	ValidationPassed bool              `json:"validation_passed"`
	Report           *ValidationReport `json:"validation_report,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
	ActivatedAt      *time.Time        `json:"activated_at,omitempty"`
	DeactivatedAt    *time.Time        `json:"deactivated_at,omitempty"`
	ArchivedAt       *time.Time        `json:"archived_at,omitempty"`
	RejectedAt       *time.Time        `json:"rejected_at,omitempty"`
}

// Submission is the output of an external catalog import: parsed codes plus
// counts of source rows the importer could not parse.
type Submission struct {
	Label       string `json:"label,omitempty"`
	Codes       []Code `json:"codes"`
	SourceRows  int    `json:"source_rows,omitempty"`
	SkippedRows int    `json:"skipped_rows,omitempty"`
}
