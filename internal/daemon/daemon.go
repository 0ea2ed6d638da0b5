package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"boqmatch/internal/api"
	"boqmatch/internal/config"
	"boqmatch/internal/logging"
)

// Background is a component with a Start/Stop lifecycle.
type Background interface {
	Start(ctx context.Context) error
	Stop()
}

// Deps are the components the daemon runs.
type Deps struct {
	Service   *api.Service
	Recorder  Background
	Scheduler Background
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	listener net.Listener
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool   `json:"running"`
	APIAddress   string `json:"api_address,omitempty"`
	LockFilePath string `json:"lock_file_path"`
}

// New constructs a daemon.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Service == nil || deps.Recorder == nil || deps.Scheduler == nil {
		return nil, errors.New("daemon requires config, service, feedback recorder and scheduler")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		deps:     deps,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the feedback workers and the
// scheduler, and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another boqmatch daemon instance is already running")
	}

	listener, err := net.Listen("tcp", strings.TrimSpace(d.cfg.Paths.APIBind))
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.deps.Recorder.Start(runCtx); err != nil {
		cancel()
		listener.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start feedback recorder: %w", err)
	}
	if err := d.deps.Scheduler.Start(runCtx); err != nil {
		d.deps.Recorder.Stop()
		cancel()
		listener.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := newAPIServer(d.deps.Service, d.cfg.Paths.APIToken, d.logger)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return server.serve(listener)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return server.shutdown()
	})

	d.cancel = cancel
	d.group = group
	d.listener = listener
	d.running = true
	d.logger.Info("boqmatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts down the API, the scheduler and the feedback workers and
// releases the lock.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel, group := d.cancel, d.group
	d.running = false
	d.cancel = nil
	d.group = nil
	d.listener = nil
	d.mu.Unlock()

	cancel()
	err := group.Wait()
	d.deps.Scheduler.Stop()
	d.deps.Recorder.Stop()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.logger.Info("boqmatch daemon stopped")
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{Running: d.running, LockFilePath: d.lockPath}
	if d.listener != nil {
		status.APIAddress = d.listener.Addr().String()
	}
	return status
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}
