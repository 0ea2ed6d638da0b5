package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"boqmatch/internal/catalog"
	"boqmatch/internal/jobs"
	"boqmatch/internal/kb"
	"boqmatch/internal/notifications"
	"boqmatch/internal/resolve"
	"boqmatch/internal/scheduler"
)

// Version transitions accepted by Transition.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionActivate = "activate"
	ActionArchive  = "archive"
)

// Resolver runs the matching pipeline.
type Resolver interface {
	Match(ctx context.Context, req resolve.Request) (*resolve.Result, error)
}

// FeedbackRecorder accepts reviews.
type FeedbackRecorder interface {
	Record(ctx context.Context, fb kb.Feedback) (bool, error)
}

// JobStates lists scheduler bookkeeping.
type JobStates interface {
	States(ctx context.Context) ([]scheduler.State, error)
}

// Deps are the components behind the service. Scheduler may be nil when the
// service runs outside the daemon.
type Deps struct {
	Resolver  Resolver
	Recorder  FeedbackRecorder
	Catalog   *catalog.Store
	KB        *kb.Store
	Jobs      *jobs.Runner
	Scheduler JobStates
}

// Service implements the operations exposed over HTTP and the CLI.
type Service struct {
	deps Deps
}

// NewService validates deps and returns a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("api service requires a resolver")
	case deps.Recorder == nil:
		return nil, errors.New("api service requires a feedback recorder")
	case deps.Catalog == nil || deps.KB == nil:
		return nil, errors.New("api service requires catalog and kb stores")
	case deps.Jobs == nil:
		return nil, errors.New("api service requires a job runner")
	}
	return &Service{deps: deps}, nil
}

// AttachScheduler exposes job bookkeeping through CatalogStatus.
func (s *Service) AttachScheduler(states JobStates) {
	s.deps.Scheduler = states
}

// Match resolves one line item.
func (s *Service) Match(ctx context.Context, req MatchRequest) (*resolve.Result, error) {
	return s.deps.Resolver.Match(ctx, resolve.Request{
		Text:     req.Text,
		Quantity: req.Quantity,
		Unit:     req.Unit,
		Context:  req.ProjectContext,
	})
}

// Feedback queues a review of an earlier match.
func (s *Service) Feedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	queued, err := s.deps.Recorder.Record(ctx, kb.Feedback{
		MatchID:        req.MatchID,
		Confirmed:      req.Confirmed,
		CorrectedCode:  req.CorrectedCode,
		ProjectContext: req.ProjectContext,
	})
	if err != nil {
		return FeedbackResponse{}, err
	}
	return FeedbackResponse{Accepted: true, Queued: queued}, nil
}

// KBStats reports knowledge base statistics.
func (s *Service) KBStats(ctx context.Context) (KBStatsResponse, error) {
	stats, err := s.deps.KB.Stats(ctx)
	if err != nil {
		return KBStatsResponse{}, err
	}
	return KBStatsResponse{Stats: stats}, nil
}

// Related lists suggestions for code.
func (s *Service) Related(ctx context.Context, code string, limit int) (RelatedResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return RelatedResponse{}, fmt.Errorf("%w: code is required", ErrBadRequest)
	}
	related, err := s.deps.KB.RelatedItems(ctx, code, limit)
	if err != nil {
		return RelatedResponse{}, err
	}
	if related == nil {
		related = []kb.Related{}
	}
	return RelatedResponse{Code: code, Related: related}, nil
}

// CatalogStatus summarizes the active version, the last health check and,
// inside the daemon, the scheduled jobs.
func (s *Service) CatalogStatus(ctx context.Context) (CatalogStatusResponse, error) {
	summary, err := s.deps.Catalog.Status(ctx)
	if err != nil {
		return CatalogStatusResponse{}, err
	}
	resp := CatalogStatusResponse{StatusSummary: summary}
	if s.deps.Scheduler != nil {
		states, err := s.deps.Scheduler.States(ctx)
		if err != nil {
			return CatalogStatusResponse{}, err
		}
		resp.Jobs = states
	}
	return resp, nil
}

// Versions lists catalog versions.
func (s *Service) Versions(ctx context.Context, includeArchived bool) (VersionListResponse, error) {
	versions, err := s.deps.Catalog.List(ctx, includeArchived)
	if err != nil {
		return VersionListResponse{}, err
	}
	if versions == nil {
		versions = []*catalog.Version{}
	}
	return VersionListResponse{Versions: versions}, nil
}

// Version returns one catalog version.
func (s *Service) Version(ctx context.Context, id string) (VersionResponse, error) {
	version, err := s.deps.Catalog.Get(ctx, id)
	if err != nil {
		return VersionResponse{}, err
	}
	return VersionResponse{Version: version}, nil
}

// Submit stores a parsed catalog as a pending version and validates it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (VersionResponse, error) {
	if len(req.Codes) == 0 {
		return VersionResponse{}, fmt.Errorf("%w: codes are required", ErrBadRequest)
	}
	version, err := s.deps.Catalog.Submit(ctx, req)
	if err != nil {
		return VersionResponse{}, err
	}
	s.deps.Jobs.Notify(ctx, notifications.EventVersionSubmitted, versionPayload(version))
	return VersionResponse{Version: version}, nil
}

// Transition applies a lifecycle action to a version.
func (s *Service) Transition(ctx context.Context, id, action, reason string) (VersionResponse, error) {
	var (
		version *catalog.Version
		err     error
	)
	switch action {
	case ActionApprove:
		version, err = s.deps.Catalog.Approve(ctx, id)
	case ActionReject:
		version, err = s.deps.Catalog.Reject(ctx, id, reason)
	case ActionActivate:
		if version, err = s.deps.Catalog.Activate(ctx, id); err == nil {
			s.deps.Jobs.Notify(ctx, notifications.EventVersionActivated, versionPayload(version))
		}
	case ActionArchive:
		version, err = s.deps.Catalog.Archive(ctx, id)
	default:
		return VersionResponse{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, action)
	}
	if err != nil {
		return VersionResponse{}, err
	}
	return VersionResponse{Version: version}, nil
}

func versionPayload(v *catalog.Version) notifications.Payload {
	return notifications.Payload{
		"version_id": v.ID,
		"label":      v.Label,
		"codes":      strconv.Itoa(v.CodeCount),
		"valid":      strconv.FormatBool(v.ValidationPassed),
	}
}

// Cleanup runs the knowledge base cleanup now.
func (s *Service) Cleanup(ctx context.Context) (CleanupResponse, error) {
	report, err := s.deps.Jobs.Cleanup(ctx)
	if err != nil {
		return CleanupResponse{}, err
	}
	return CleanupResponse{CleanupReport: report}, nil
}

// Health runs the catalog health check now, optionally pinging the model
// endpoint.
func (s *Service) Health(ctx context.Context, includeLLM bool) (*catalog.HealthReport, error) {
	if includeLLM {
		return s.deps.Jobs.HealthCheckWithLLM(ctx)
	}
	return s.deps.Jobs.HealthCheck(ctx)
}
