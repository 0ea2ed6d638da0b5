package api

import (
	"boqmatch/internal/catalog"
	"boqmatch/internal/jobs"
	"boqmatch/internal/kb"
	"boqmatch/internal/scheduler"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MatchRequest is the body of POST /api/match.
type MatchRequest struct {
	Text           string            `json:"text"`
	Quantity       *float64          `json:"quantity,omitempty"`
	Unit           string            `json:"unit,omitempty"`
	ProjectContext map[string]string `json:"project_context,omitempty"`
}

// FeedbackRequest is the body of POST /api/feedback.
type FeedbackRequest struct {
	MatchID        string            `json:"match_id"`
	Confirmed      bool              `json:"confirmed"`
	CorrectedCode  string            `json:"corrected_code,omitempty"`
	ProjectContext map[string]string `json:"project_context,omitempty"`
}

// FeedbackResponse acknowledges a review. Queued is false for a repeat.
type FeedbackResponse struct {
	Accepted bool `json:"accepted"`
	Queued   bool `json:"queued"`
}

// SubmitRequest is the body of POST /api/catalog/versions.
type SubmitRequest = catalog.Submission

// TransitionRequest is the optional body of a version transition.
type TransitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// VersionResponse wraps one catalog version.
type VersionResponse struct {
	Version *catalog.Version `json:"version"`
}

// VersionListResponse lists catalog versions, newest first.
type VersionListResponse struct {
	Versions []*catalog.Version `json:"versions"`
}

// CatalogStatusResponse reports the active version, the last health check
// and the scheduler bookkeeping.
type CatalogStatusResponse struct {
	*catalog.StatusSummary
	Jobs []scheduler.State `json:"jobs,omitempty"`
}

// KBStatsResponse reports knowledge base statistics.
type KBStatsResponse struct {
	kb.Stats
}

// CleanupResponse reports one cleanup run.
type CleanupResponse struct {
	jobs.CleanupReport
}

// RelatedResponse lists related-item suggestions for a code.
type RelatedResponse struct {
	Code    string       `json:"code"`
	Related []kb.Related `json:"related_items"`
}
