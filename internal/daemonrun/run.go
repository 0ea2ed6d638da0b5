package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"boqmatch/internal/config"
	"boqmatch/internal/daemon"
	"boqmatch/internal/logging"
	"boqmatch/internal/preflight"
	"boqmatch/internal/scheduler"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the boqmatch daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:       opts.LogLevel,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)

	stack, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open matching stack", logging.Error(err))
		return err
	}
	defer stack.Close()

	sched, err := scheduler.Open(signalCtx, cfg.SchedulerDBPath(), scheduler.Options{PollInterval: cfg.PollInterval()}, logger)
	if err != nil {
		return fmt.Errorf("open scheduler: %w", err)
	}
	defer sched.Close()
	for _, job := range stack.Jobs.Jobs() {
		if err := sched.Register(signalCtx, job); err != nil {
			return err
		}
	}
	stack.Service.AttachScheduler(sched)

	d, err := daemon.New(cfg, daemon.Deps{Service: stack.Service, Recorder: stack.Recorder, Scheduler: sched}, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other daemon uses the data directory"))
		return err
	}
	// The lock is held from here on, so the pid file belongs to this process.
	pidPath := filepath.Join(cfg.Paths.DataDir, "boqmatch.pid")
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("write pid file", logging.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	<-signalCtx.Done()
	logger.Info("boqmatch daemon shutting down")
	return d.Stop()
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	disk := preflight.CheckFreeSpace(preflight.NameDiskSpace, cfg.Paths.DataDir, cfg.Jobs.MinFreeDiskMiB)
	logger.InfoContext(ctx, "dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("classifier_provider", cfg.Classifier.Provider),
		logging.String("verifier_provider", cfg.Verifier.Provider),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.GetLLM().APIKey) != ""),
		logging.String("llm_model", cfg.GetLLM().Model),
		logging.Bool("disk_space_ok", disk.Passed),
		logging.String("disk_space", disk.Detail),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_auth", strings.TrimSpace(cfg.Paths.APIToken) != ""),
	)
}
