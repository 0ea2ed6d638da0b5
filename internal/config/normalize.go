package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"boqmatch/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLanguages()
	if err := c.normalizeClassifier(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeVerifier()
	c.normalizeCatalog()
	c.normalizeJobs()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("BOQMATCH_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLanguages() {
	c.Normalizer.WorkingLanguage = language.ToISO2(c.Normalizer.WorkingLanguage)
	if c.Normalizer.WorkingLanguage == "" {
		c.Normalizer.WorkingLanguage = defaultWorkingLanguage
	}
	langs := language.NormalizeList(c.Normalizer.Languages)
	if len(langs) == 0 {
		langs = append(langs, defaultLanguages...)
	}
	if !slices.Contains(langs, c.Normalizer.WorkingLanguage) {
		langs = append(langs, c.Normalizer.WorkingLanguage)
	}
	c.Normalizer.Languages = langs
}

func (c *Config) normalizeClassifier() error {
	c.Classifier.Provider = strings.ToLower(strings.TrimSpace(c.Classifier.Provider))
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = defaultClassifierProvider
	}
	if c.Classifier.TimeoutMS <= 0 {
		c.Classifier.TimeoutMS = defaultClassifierTimeoutMS
	}
	if strings.TrimSpace(c.Classifier.RulesPath) == "" {
		c.Classifier.RulesPath = ""
		return nil
	}
	var err error
	if c.Classifier.RulesPath, err = expandPath(c.Classifier.RulesPath); err != nil {
		return fmt.Errorf("classifier.rules_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("BOQMATCH_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

// normalizeVerifier runs after normalizeLLM so an empty provider can follow
// whether an API key is available.
func (c *Config) normalizeVerifier() {
	c.Verifier.Provider = strings.ToLower(strings.TrimSpace(c.Verifier.Provider))
	if c.Verifier.Provider == "" {
		if c.LLM.APIKey != "" {
			c.Verifier.Provider = "llm"
		} else {
			c.Verifier.Provider = "lexical"
		}
	}
	if c.Verifier.TimeoutMS <= 0 {
		c.Verifier.TimeoutMS = defaultVerifierTimeoutMS
	}
	if c.Verifier.RequestsPerSecond <= 0 {
		c.Verifier.RequestsPerSecond = defaultVerifierRPS
	}
	if c.Verifier.Burst <= 0 {
		c.Verifier.Burst = defaultVerifierBurst
	}
	if c.Verifier.MaxCandidates <= 0 {
		c.Verifier.MaxCandidates = defaultVerifierCandidates
	}
}

func (c *Config) normalizeCatalog() {
	sections := make([]string, 0, len(c.Catalog.RequiredSections))
	for _, section := range c.Catalog.RequiredSections {
		section = strings.TrimSpace(section)
		if section != "" && !slices.Contains(sections, section) {
			sections = append(sections, section)
		}
	}
	c.Catalog.RequiredSections = sections
	if c.Catalog.HistoricalWindow <= 0 {
		c.Catalog.HistoricalWindow = defaultHistoricalWindow
	}
}

func (c *Config) normalizeJobs() {
	c.Jobs.AutoApproveSchedule = strings.TrimSpace(c.Jobs.AutoApproveSchedule)
	c.Jobs.CleanupSchedule = strings.TrimSpace(c.Jobs.CleanupSchedule)
	c.Jobs.HealthCheckSchedule = strings.TrimSpace(c.Jobs.HealthCheckSchedule)
	if c.Jobs.PollIntervalSeconds <= 0 {
		c.Jobs.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Jobs.MinFreeDiskMiB < 0 {
		c.Jobs.MinFreeDiskMiB = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
