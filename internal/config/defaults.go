package config

const (
	defaultConfigPath           = "~/.config/boqmatch/config.toml"
	defaultDataDir              = "~/.local/share/boqmatch"
	defaultLogDir               = "~/.local/share/boqmatch/logs"
	defaultAPIBind              = "127.0.0.1:7610"
	defaultWorkingLanguage      = "cs"
	defaultKBAcceptThreshold    = 0.90
	defaultLocalAcceptThreshold = 0.85
	defaultDegradePenalty       = 0.80
	defaultMaxCandidates        = 5000
	defaultMaxSections          = 3
	defaultShortlistSize        = 10
	defaultFuzzyPrefixRunes     = 12
	defaultFuzzyMinSimilarity   = 0.92
	defaultClassifierProvider   = "keyword"
	defaultClassifierTimeoutMS  = 1500
	defaultVerifierTimeoutMS    = 20000
	defaultVerifierRPS          = 2.0
	defaultVerifierBurst        = 4
	defaultVerifierCandidates   = 20
	defaultMinLexicalScore      = 0.70
	defaultLexicalMargin        = 0.08
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultLLMTitle             = "boqmatch"
	defaultLLMTimeoutSeconds    = 30
	defaultConfirmConfidence    = 0.97
	defaultCorrectionConfidence = 0.95
	defaultRecencyWeight        = 0.6
	defaultMaxAutoConfidence    = 0.99
	defaultRetentionDays        = 365
	defaultFeedbackWorkers      = 2
	defaultFeedbackBuffer       = 256
	defaultMinCodes             = 100
	defaultMaxCodes             = 200000
	defaultMaxSkipRate          = 0.02
	defaultHistoricalDeviation  = 0.5
	defaultHistoricalWindow     = 5
	defaultAutoApproveHours     = 48
	defaultAutoApproveSchedule  = "0 * * * *"
	defaultCleanupSchedule      = "30 3 * * *"
	defaultHealthCheckSchedule  = "*/15 * * * *"
	defaultPollIntervalSeconds  = 30
	defaultMinFreeDiskMiB       = 512
	defaultNotifyTimeoutSeconds = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

var defaultLanguages = []string{"cs", "sk", "de", "en", "pl"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Normalizer: Normalizer{
			WorkingLanguage: defaultWorkingLanguage,
			Languages:       append([]string(nil), defaultLanguages...),
		},
		Matching: Matching{
			KBAcceptThreshold:    defaultKBAcceptThreshold,
			LocalAcceptThreshold: defaultLocalAcceptThreshold,
			DegradePenalty:       defaultDegradePenalty,
			MaxCandidates:        defaultMaxCandidates,
			MaxSections:          defaultMaxSections,
			ShortlistSize:        defaultShortlistSize,
			FuzzyPrefixRunes:     defaultFuzzyPrefixRunes,
			FuzzyMinSimilarity:   defaultFuzzyMinSimilarity,
			WriteBack:            true,
		},
		Classifier: Classifier{
			Provider:  defaultClassifierProvider,
			TimeoutMS: defaultClassifierTimeoutMS,
		},
		Verifier: Verifier{
			TimeoutMS:         defaultVerifierTimeoutMS,
			RequestsPerSecond: defaultVerifierRPS,
			Burst:             defaultVerifierBurst,
			MaxCandidates:     defaultVerifierCandidates,
			MinLexicalScore:   defaultMinLexicalScore,
			LexicalMargin:     defaultLexicalMargin,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		KB: KB{
			ConfirmConfidence:    defaultConfirmConfidence,
			CorrectionConfidence: defaultCorrectionConfidence,
			RecencyWeight:        defaultRecencyWeight,
			MaxAutoConfidence:    defaultMaxAutoConfidence,
			RetentionDays:        defaultRetentionDays,
			FeedbackWorkers:      defaultFeedbackWorkers,
			FeedbackBuffer:       defaultFeedbackBuffer,
		},
		Catalog: Catalog{
			MinCodes:              defaultMinCodes,
			MaxCodes:              defaultMaxCodes,
			MaxSkipRate:           defaultMaxSkipRate,
			HistoricalDeviation:   defaultHistoricalDeviation,
			HistoricalWindow:      defaultHistoricalWindow,
			AutoApproveAfterHours: defaultAutoApproveHours,
		},
		Jobs: Jobs{
			AutoApproveSchedule: defaultAutoApproveSchedule,
			CleanupSchedule:     defaultCleanupSchedule,
			HealthCheckSchedule: defaultHealthCheckSchedule,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			MinFreeDiskMiB:      defaultMinFreeDiskMiB,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
