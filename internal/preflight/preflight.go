package preflight

import (
	"context"

	"boqmatch/internal/config"
)

// Check names used in reports.
const (
	NameDataDir   = "data_directory"
	NameLogDir    = "log_directory"
	NameDiskSpace = "disk_space"
	NameLLM       = "llm_endpoint"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Options selects the optional checks.
type Options struct {
	// IncludeLLM pings the model endpoint when a model-backed provider is
	// configured. The scheduled health check leaves it off.
	IncludeLLM bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess(NameDataDir, cfg.Paths.DataDir),
		CheckDirectoryAccess(NameLogDir, cfg.Paths.LogDir),
		CheckFreeSpace(NameDiskSpace, cfg.Paths.DataDir, cfg.Jobs.MinFreeDiskMiB),
	}

	if opts.IncludeLLM && usesLLM(cfg) {
		results = append(results, CheckLLM(ctx, NameLLM, cfg.GetLLM()))
	}
	return results
}

func usesLLM(cfg *config.Config) bool {
	return cfg.Classifier.Provider == "llm" || cfg.Verifier.Provider == "llm"
}
