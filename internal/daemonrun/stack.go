package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boqmatch/internal/api"
	"boqmatch/internal/catalog"
	"boqmatch/internal/classify"
	"boqmatch/internal/config"
	"boqmatch/internal/feedback"
	"boqmatch/internal/jobs"
	"boqmatch/internal/kb"
	"boqmatch/internal/logging"
	"boqmatch/internal/matcher"
	"boqmatch/internal/resolve"
	"boqmatch/internal/services/llm"
	"boqmatch/internal/textnorm"
	"boqmatch/internal/verify"
)

// Stack is the fully wired matching pipeline with its stores. Both the daemon
// and one-shot CLI commands run on it.
type Stack struct {
	Config       *config.Config
	Catalog      *catalog.Store
	KB           *kb.Store
	Orchestrator *resolve.Orchestrator
	Recorder     *feedback.Recorder
	Jobs         *jobs.Runner
	Service      *api.Service
}

// Open creates the data directories, opens the stores and wires the
// providers selected in cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	catalogStore, err := catalog.Open(ctx, cfg.CatalogDBPath(), catalog.PolicyFromConfig(cfg.Catalog), logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	kbStore, err := kb.Open(ctx, cfg.KBDBPath(), kb.OptionsFromConfig(cfg.KB, cfg.Matching), logger)
	if err != nil {
		catalogStore.Close()
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	stack := &Stack{Config: cfg, Catalog: catalogStore, KB: kbStore}

	if err := stack.wire(logger); err != nil {
		stack.Close()
		return nil, err
	}
	return stack, nil
}

func (s *Stack) wire(logger *slog.Logger) error {
	cfg := s.Config
	norm := textnorm.New(textnorm.Options{
		WorkingLanguage: cfg.Normalizer.WorkingLanguage,
		Languages:       cfg.Normalizer.Languages,
	})
	m := matcher.New(norm, matcher.Options{
		Language:      cfg.Normalizer.WorkingLanguage,
		ShortlistSize: cfg.RankDepth(),
	})

	classifier, err := buildClassifier(cfg, norm, m, logger)
	if err != nil {
		return err
	}
	orch, err := resolve.New(resolve.Deps{
		Normalizer: norm,
		Catalog:    s.Catalog,
		KB:         s.KB,
		Classifier: classifier,
		Matcher:    m,
		Verifier:   buildVerifier(cfg, norm, m),
	}, resolve.OptionsFromConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	s.Orchestrator = orch

	if s.Recorder, err = feedback.New(s.KB, s.Catalog, feedback.OptionsFromConfig(cfg), logger); err != nil {
		return err
	}
	if s.Jobs, err = jobs.New(cfg, s.Catalog, s.KB, logger); err != nil {
		return err
	}
	s.Service, err = api.NewService(api.Deps{
		Resolver: s.Orchestrator,
		Recorder: s.Recorder,
		Catalog:  s.Catalog,
		KB:       s.KB,
		Jobs:     s.Jobs,
	})
	return err
}

// Close closes the stores.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.KB.Close(), s.Catalog.Close())
}

func llmClient(cfg *config.Config, opts ...llm.Option) *llm.Client {
	conn := cfg.GetLLM()
	return llm.NewClient(llm.Config{
		APIKey:         conn.APIKey,
		BaseURL:        conn.BaseURL,
		Model:          conn.Model,
		Referer:        conn.Referer,
		Title:          conn.Title,
		TimeoutSeconds: conn.TimeoutSeconds,
	}, opts...)
}

// buildClassifier chains the configured primary classifier with the keyword
// classifier as the local fallback.
func buildClassifier(cfg *config.Config, norm *textnorm.Normalizer, m *matcher.Matcher, logger *slog.Logger) (classify.Classifier, error) {
	rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load classifier rules: %w", err)
	}
	keyword := classify.NewKeyword(norm, m.Analyzer(), rules, cfg.Matching.MaxSections)

	var primary classify.Classifier
	if cfg.Classifier.Provider == "llm" {
		primary = classify.NewLLM(llmClient(cfg, llm.WithRetry(1, 0, 0)), cfg.Matching.MaxSections)
	}
	return classify.NewChain(primary, keyword, cfg.ClassifierTimeout(), logger), nil
}

func buildVerifier(cfg *config.Config, norm *textnorm.Normalizer, m *matcher.Matcher) verify.Verifier {
	switch cfg.Verifier.Provider {
	case "llm":
		client := llmClient(cfg, llm.WithRateLimit(cfg.Verifier.RequestsPerSecond, cfg.Verifier.Burst))
		return verify.NewLLM(client, cfg.Verifier.MaxCandidates)
	case "lexical":
		return verify.NewLexical(norm, m.Analyzer(), cfg.Verifier.MinLexicalScore, cfg.Verifier.LexicalMargin)
	default:
		return nil
	}
}
