package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"boqmatch/internal/config"
	"boqmatch/internal/daemonrun"
	"boqmatch/internal/logging"
)

// oneShotLogLevel keeps one-shot commands quiet unless --log-level is given.
const oneShotLogLevel = "warn"

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	outputFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, outputFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		outputFlag:   outputFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel(fallback string) string {
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		return strings.TrimSpace(*c.logLevelFlag)
	}
	return fallback
}

func (c *commandContext) output(cmd *cobra.Command) outputMode {
	raw := ""
	if c.outputFlag != nil {
		raw = *c.outputFlag
	}
	mode, err := parseOutputMode(raw)
	if err != nil {
		mode = outputAuto
	}
	return mode.resolve(cmd.OutOrStdout())
}

// withStack opens the stores and the matching pipeline for the duration of fn.
func (c *commandContext) withStack(cmd *cobra.Command, fn func(*daemonrun.Stack) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:  c.logLevel(oneShotLogLevel),
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	stack, err := daemonrun.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
