package classify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"boqmatch/internal/catalog"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
)

// Chain runs Primary under Timeout and falls back to Fallback on error,
// timeout or an empty answer. It never returns zero sections for a catalog
// that has any.
type Chain struct {
	primary  Classifier
	fallback Classifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewChain builds a chain. primary may be nil, in which case only the
// fallback runs.
func NewChain(primary, fallback Classifier, timeout time.Duration, logger *slog.Logger) *Chain {
	return &Chain{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "classifier"),
	}
}

// Name implements Classifier.
func (c *Chain) Name() string {
	if c.primary == nil {
		return c.fallback.Name()
	}
	return c.primary.Name() + "+" + c.fallback.Name()
}

// Classify implements Classifier. Only cancellation of ctx itself is
// returned as an error.
func (c *Chain) Classify(ctx context.Context, snap *catalog.Snapshot, text string) ([]string, error) {
	if snap == nil {
		return nil, errors.New("classify: no catalog snapshot")
	}
	if c.primary != nil {
		sections, err := c.runPrimary(ctx, snap, text)
		if err == nil && len(sections) > 0 {
			return sections, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := fallbackReason(err)
		metrics.ClassifierFallbacks.WithLabelValues(reason).Inc()
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "classifier unavailable, using local fallback", "classifier_fallback",
			logging.String("classifier", c.primary.Name()),
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check llm connectivity or classifier.timeout_ms"),
			logging.String(logging.FieldImpact, "candidate sections come from keyword heuristics"))
	}

	sections, err := c.fallback.Classify(ctx, snap, text)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || len(sections) == 0 {
		metrics.ClassifierFallbacks.WithLabelValues("all_sections").Inc()
		c.logger.Debug("fallback classifier gave no sections; scanning all sections", logging.Error(err))
		return snap.Sections(), nil
	}
	return sections, nil
}

func (c *Chain) runPrimary(ctx context.Context, snap *catalog.Snapshot, text string) ([]string, error) {
	if c.timeout <= 0 {
		return c.primary.Classify(ctx, snap, text)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.primary.Classify(callCtx, snap, text)
}

func fallbackReason(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrNoSections):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
