package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Normalizer controls language handling for incoming line items.
type Normalizer struct {
	// WorkingLanguage is the language catalog names are written in. Glossary
	// terms from other supported languages are rewritten into it.
	WorkingLanguage string `toml:"working_language"`
	// Languages lists the locales the detector may report. Anything else is
	// tagged "unknown".
	Languages []string `toml:"languages"`
}

// Matching contains the tier escalation policy.
type Matching struct {
	KBAcceptThreshold    float64 `toml:"kb_accept_threshold"`
	LocalAcceptThreshold float64 `toml:"local_accept_threshold"`
	DegradePenalty       float64 `toml:"degrade_penalty"`
	MaxCandidates        int     `toml:"max_candidates"`
	MaxSections          int     `toml:"max_sections"`
	ShortlistSize        int     `toml:"shortlist_size"`
	FuzzyPrefixRunes     int     `toml:"fuzzy_prefix_runes"`
	FuzzyMinSimilarity   float64 `toml:"fuzzy_min_similarity"`
	WriteBack            bool    `toml:"write_back"`
}

// Classifier configures the block classifier.
type Classifier struct {
	Provider  string `toml:"provider"`
	TimeoutMS int    `toml:"timeout_ms"`
	RulesPath string `toml:"rules_path"`
}

// Verifier configures the tier-3 verifier.
type Verifier struct {
	Provider          string  `toml:"provider"`
	TimeoutMS         int     `toml:"timeout_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MaxCandidates     int     `toml:"max_candidates"`
	MinLexicalScore   float64 `toml:"min_lexical_score"`
	LexicalMargin     float64 `toml:"lexical_margin"`
}

// LLM contains shared LLM connection settings used by the classifier and verifier.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// KB contains knowledge base cache tuning.
type KB struct {
	ConfirmConfidence    float64 `toml:"confirm_confidence"`
	CorrectionConfidence float64 `toml:"correction_confidence"`
	RecencyWeight        float64 `toml:"recency_weight"`
	MaxAutoConfidence    float64 `toml:"max_auto_confidence"`
	RetentionDays        int     `toml:"retention_days"`
	FeedbackWorkers      int     `toml:"feedback_workers"`
	FeedbackBuffer       int     `toml:"feedback_buffer"`
}

// Catalog contains the validation rules a version must pass before approval.
type Catalog struct {
	MinCodes              int      `toml:"min_codes"`
	MaxCodes              int      `toml:"max_codes"`
	RequiredSections      []string `toml:"required_sections"`
	MaxSkipRate           float64  `toml:"max_skip_rate"`
	HistoricalDeviation   float64  `toml:"historical_deviation"`
	HistoricalWindow      int      `toml:"historical_window"`
	AutoApproveAfterHours int      `toml:"auto_approve_after_hours"`
}

// Jobs contains schedules for background maintenance.
type Jobs struct {
	AutoApproveSchedule string `toml:"auto_approve_schedule"`
	CleanupSchedule     string `toml:"cleanup_schedule"`
	HealthCheckSchedule string `toml:"health_check_schedule"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MinFreeDiskMiB      int    `toml:"min_free_disk_mib"`
}

// Notifications configures ntfy alerts for catalog and health events.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for boqmatch.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Normalizer: working language and detectable locales
//   - Matching: tier thresholds and candidate limits
//   - Classifier / Verifier: provider selection and timeouts
//   - LLM: shared connection settings for model-backed providers
//   - KB: confidence weighting, retention, feedback workers
//   - Catalog: version validation rules
//   - Jobs: cron schedules for auto-approval, cleanup and health checks
//   - Notifications: ntfy topic for catalog and health alerts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Normalizer    Normalizer    `toml:"normalizer"`
	Matching      Matching      `toml:"matching"`
	Classifier    Classifier    `toml:"classifier"`
	Verifier      Verifier      `toml:"verifier"`
	LLM           LLM           `toml:"llm"`
	KB            KB            `toml:"kb"`
	Catalog       Catalog       `toml:"catalog"`
	Jobs          Jobs          `toml:"jobs"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("boqmatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CatalogDBPath returns the location of the catalog version database.
func (c *Config) CatalogDBPath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// KBDBPath returns the location of the knowledge base database.
func (c *Config) KBDBPath() string {
	return filepath.Join(c.Paths.DataDir, "kb.db")
}

// SchedulerDBPath returns the location of the job state database.
func (c *Config) SchedulerDBPath() string {
	return filepath.Join(c.Paths.DataDir, "scheduler.db")
}

// LockPath returns the daemon lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "boqmatchd.lock")
}

// LogFilePath returns the daemon log file path.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "boqmatch.log")
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// RankDepth returns how many ranked candidates the matcher keeps. It is never
// smaller than verifier.max_candidates so the verifier sees the full shortlist
// it is configured for.
func (c *Config) RankDepth() int {
	return max(c.Matching.ShortlistSize, c.Verifier.MaxCandidates)
}

// ClassifierTimeout returns the per-call budget for the external classifier.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutMS) * time.Millisecond
}

// VerifierTimeout returns the per-call budget for the verifier.
func (c *Config) VerifierTimeout() time.Duration {
	return time.Duration(c.Verifier.TimeoutMS) * time.Millisecond
}

// RetentionWindow returns how long unused KB mappings are kept.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.KB.RetentionDays) * 24 * time.Hour
}

// AutoApproveAfter returns how long a pending version waits before auto-approval.
func (c *Config) AutoApproveAfter() time.Duration {
	return time.Duration(c.Catalog.AutoApproveAfterHours) * time.Hour
}

// PollInterval returns how often the scheduler checks for due jobs.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across features.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
