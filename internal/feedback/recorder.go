package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boqmatch/internal/config"
	"boqmatch/internal/kb"
	"boqmatch/internal/logging"
)

// ErrInvalidFeedback is returned by Record for reviews missing a match id.
var ErrInvalidFeedback = errors.New("invalid feedback")

// Store is the slice of the knowledge base the recorder needs.
type Store interface {
	EnqueueFeedback(ctx context.Context, fb kb.Feedback) (bool, error)
	PendingFeedback(ctx context.Context, limit int) ([]kb.Feedback, error)
	GetMatch(ctx context.Context, matchID string) (*kb.MatchRecord, error)
	ApplyFeedback(ctx context.Context, effect kb.Effect) (bool, kb.WriteResult, error)
	FailFeedback(ctx context.Context, matchID string, cause error) error
}

// CodeChecker validates corrected codes against a catalog version.
type CodeChecker interface {
	CodeExists(ctx context.Context, versionID, code string) (bool, error)
}

// Options controls the background workers.
type Options struct {
	Workers      int
	Buffer       int
	PollInterval time.Duration
}

// OptionsFromConfig builds Options from the [kb] and [jobs] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:      cfg.KB.FeedbackWorkers,
		Buffer:       cfg.KB.FeedbackBuffer,
		PollInterval: cfg.PollInterval(),
	}
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	return o
}

// Recorder accepts reviews and applies them asynchronously.
type Recorder struct {
	store   Store
	catalog CodeChecker
	opts    Options
	logger  *slog.Logger
	wake    chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Recorder.
func New(store Store, catalog CodeChecker, opts Options, logger *slog.Logger) (*Recorder, error) {
	if store == nil || catalog == nil {
		return nil, errors.New("feedback recorder requires a kb store and a catalog")
	}
	return &Recorder{
		store:    store,
		catalog:  catalog,
		opts:     opts.normalized(),
		logger:   logging.NewComponentLogger(logger, "feedback"),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
	}, nil
}

// Record persists fb and returns once it is durable. The boolean is false when
// the review was already queued or processed; that is not an error.
func (r *Recorder) Record(ctx context.Context, fb kb.Feedback) (bool, error) {
	fb.MatchID = strings.TrimSpace(fb.MatchID)
	if fb.MatchID == "" {
		return false, fmt.Errorf("%w: match id is required", ErrInvalidFeedback)
	}
	fb.CorrectedCode = strings.TrimSpace(fb.CorrectedCode)
	queued, err := r.store.EnqueueFeedback(ctx, fb)
	if err != nil {
		return false, fmt.Errorf("record feedback: %w", err)
	}
	if queued {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	logging.WithContext(ctx, r.logger).Debug("feedback received",
		logging.MatchID(fb.MatchID),
		logging.Bool("confirmed", fb.Confirmed),
		logging.String("corrected_code", fb.CorrectedCode),
		logging.Bool("queued", queued))
	return queued, nil
}

// Start launches the dispatcher and workers.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("feedback recorder already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	jobs := make(chan kb.Feedback, r.opts.Buffer)
	r.wg.Add(1 + r.opts.Workers)
	go r.dispatch(runCtx, jobs)
	for range r.opts.Workers {
		go r.work(runCtx, jobs)
	}
	r.logger.Info("feedback recorder started",
		logging.Int("workers", r.opts.Workers),
		logging.Duration("poll_interval", r.opts.PollInterval))
	return nil
}

// Stop cancels background processing and waits for the workers. Entries
// still in the inbox are picked up on the next Start.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// ProcessPending synchronously drains the inbox once and returns how many
// reviews were applied.
func (r *Recorder) ProcessPending(ctx context.Context) (int, error) {
	pending, err := r.store.PendingFeedback(ctx, r.opts.Buffer)
	if err != nil {
		return 0, fmt.Errorf("list pending feedback: %w", err)
	}
	applied := 0
	for _, fb := range pending {
		if !r.claim(fb.MatchID) {
			continue
		}
		ok := r.process(ctx, fb)
		r.release(fb.MatchID)
		if ok {
			applied++
		}
		if err := ctx.Err(); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (r *Recorder) dispatch(ctx context.Context, jobs chan<- kb.Feedback) {
	defer r.wg.Done()
	defer close(jobs)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := r.enqueuePending(ctx, jobs); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(r.logger, "feedback inbox scan failed", "feedback_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kb database access"),
				logging.String(logging.FieldImpact, "reviews stay queued until the next scan"))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

func (r *Recorder) enqueuePending(ctx context.Context, jobs chan<- kb.Feedback) error {
	pending, err := r.store.PendingFeedback(ctx, r.opts.Buffer)
	if err != nil {
		return err
	}
	for _, fb := range pending {
		if !r.claim(fb.MatchID) {
			continue
		}
		select {
		case jobs <- fb:
		case <-ctx.Done():
			r.release(fb.MatchID)
			return ctx.Err()
		}
	}
	return nil
}

func (r *Recorder) work(ctx context.Context, jobs <-chan kb.Feedback) {
	defer r.wg.Done()
	for fb := range jobs {
		if ctx.Err() == nil {
			r.process(ctx, fb)
		}
		r.release(fb.MatchID)
	}
}

func (r *Recorder) claim(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[matchID]; busy {
		return false
	}
	r.inflight[matchID] = struct{}{}
	return true
}

func (r *Recorder) release(matchID string) {
	r.mu.Lock()
	delete(r.inflight, matchID)
	r.mu.Unlock()
}

// process applies one review and reports whether it changed the inbox.
// Transient failures leave the entry queued with its attempt count raised.
func (r *Recorder) process(ctx context.Context, fb kb.Feedback) bool {
	logger := r.logger.With(logging.MatchID(fb.MatchID))

	effect, err := r.plan(ctx, fb)
	if err == nil {
		var (
			applied bool
			result  kb.WriteResult
		)
		applied, result, err = r.store.ApplyFeedback(ctx, effect)
		if err == nil {
			logger.Info("feedback applied", logging.Args(append(
				logging.DecisionAttrs("feedback", effect.Outcome, effect.Detail),
				logging.String("action", result.Action),
				logging.String("code", result.Mapping.Code),
				logging.Float64("confidence", result.Mapping.Confidence),
				logging.Bool("first_delivery", applied),
			)...)...)
			return true
		}
	}
	if ctx.Err() != nil {
		return false
	}
	logging.WarnWithContext(logger, "feedback processing failed", "feedback_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the review is retried on the next inbox scan"),
		logging.String(logging.FieldImpact, "knowledge base update delayed"))
	if failErr := r.store.FailFeedback(ctx, fb.MatchID, err); failErr != nil {
		logger.Error("record feedback failure", logging.Error(failErr))
	}
	return false
}

func (r *Recorder) plan(ctx context.Context, fb kb.Feedback) (kb.Effect, error) {
	rec, err := r.store.GetMatch(ctx, fb.MatchID)
	if errors.Is(err, kb.ErrNotFound) {
		return Plan(nil, fb, false), nil
	}
	if err != nil {
		return kb.Effect{}, err
	}
	exists := false
	if code := strings.TrimSpace(fb.CorrectedCode); code != "" && code != rec.Code {
		exists, err = r.catalog.CodeExists(ctx, rec.VersionID, code)
		if err != nil {
			return kb.Effect{}, fmt.Errorf("check corrected code: %w", err)
		}
	}
	return Plan(rec, fb, exists), nil
}
