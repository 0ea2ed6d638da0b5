package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateKB(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if !strings.Contains(c.Paths.APIBind, ":") {
		return fmt.Errorf("paths.api_bind %q must be host:port", c.Paths.APIBind)
	}
	return nil
}

func (c *Config) validateMatching() error {
	if err := ensureUnitInterval(map[string]float64{
		"matching.kb_accept_threshold":    c.Matching.KBAcceptThreshold,
		"matching.local_accept_threshold": c.Matching.LocalAcceptThreshold,
		"matching.degrade_penalty":        c.Matching.DegradePenalty,
		"matching.fuzzy_min_similarity":   c.Matching.FuzzyMinSimilarity,
	}); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"matching.max_candidates":     c.Matching.MaxCandidates,
		"matching.max_sections":       c.Matching.MaxSections,
		"matching.shortlist_size":     c.Matching.ShortlistSize,
		"matching.fuzzy_prefix_runes": c.Matching.FuzzyPrefixRunes,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProviders() error {
	switch c.Classifier.Provider {
	case "keyword":
	case "llm":
		if c.LLM.APIKey == "" {
			return errors.New("classifier.provider llm requires llm.api_key (or set BOQMATCH_LLM_API_KEY)")
		}
	default:
		return fmt.Errorf("classifier.provider %q must be keyword or llm", c.Classifier.Provider)
	}
	switch c.Verifier.Provider {
	case "lexical", "none":
	case "llm":
		if c.LLM.APIKey == "" {
			return errors.New("verifier.provider llm requires llm.api_key (or set BOQMATCH_LLM_API_KEY)")
		}
	default:
		return fmt.Errorf("verifier.provider %q must be llm, lexical or none", c.Verifier.Provider)
	}
	if err := ensureUnitInterval(map[string]float64{
		"verifier.min_lexical_score": c.Verifier.MinLexicalScore,
		"verifier.lexical_margin":    c.Verifier.LexicalMargin,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateKB() error {
	if err := ensureUnitInterval(map[string]float64{
		"kb.confirm_confidence":    c.KB.ConfirmConfidence,
		"kb.correction_confidence": c.KB.CorrectionConfidence,
		"kb.recency_weight":        c.KB.RecencyWeight,
		"kb.max_auto_confidence":   c.KB.MaxAutoConfidence,
	}); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"kb.retention_days":   c.KB.RetentionDays,
		"kb.feedback_workers": c.KB.FeedbackWorkers,
		"kb.feedback_buffer":  c.KB.FeedbackBuffer,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.MinCodes < 1 {
		return errors.New("catalog.min_codes must be >= 1")
	}
	if c.Catalog.MaxCodes < c.Catalog.MinCodes {
		return errors.New("catalog.max_codes must be >= catalog.min_codes")
	}
	if c.Catalog.MaxSkipRate < 0 || c.Catalog.MaxSkipRate > 1 {
		return errors.New("catalog.max_skip_rate must be between 0 and 1")
	}
	if c.Catalog.HistoricalDeviation <= 0 {
		return errors.New("catalog.historical_deviation must be positive")
	}
	if c.Catalog.AutoApproveAfterHours < 0 {
		return errors.New("catalog.auto_approve_after_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateJobs() error {
	schedules := map[string]string{
		"jobs.auto_approve_schedule": c.Jobs.AutoApproveSchedule,
		"jobs.cleanup_schedule":      c.Jobs.CleanupSchedule,
		"jobs.health_check_schedule": c.Jobs.HealthCheckSchedule,
	}
	for key, spec := range schedules {
		// An empty schedule disables the job.
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureUnitInterval(values map[string]float64) error {
	for key, value := range values {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	return nil
}
