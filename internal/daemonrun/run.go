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
	"syscall"

	"voxeliser/internal/config"
	"voxeliser/internal/daemon"
	"voxeliser/internal/deps"
	"voxeliser/internal/logging"
	"voxeliser/internal/preflight"
	"voxeliser/internal/services"
	"voxeliser/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the voxeliser daemon and blocks until a signal arrives, ctx is
// cancelled, or the poll loop stops on a fatal configuration error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "voxeliser.log")
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			logger.Error("prepare directories", logging.Error(err),
				logging.String(logging.FieldEventType, "bootstrap_failed"))
			return err
		}
		// Each poll cycle retries and skips until the directories exist.
		logger.Warn("prepare directories", logging.Error(err),
			logging.String(logging.FieldEventType, "bootstrap_degraded"),
			logging.String(logging.FieldErrorHint, "check permissions on the configured paths"))
	}

	logDependencySnapshot(logger, cfg)
	for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logger.Warn("preflight check failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "run voxeliser check for details"),
		)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "voxeliser.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	manager, err := workflow.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	d, err := daemon.New(cfg, logger, manager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("voxeliser daemon shutting down")
	case <-d.Done():
		if err := d.Err(); err != nil {
			logger.Error("poll loop stopped", logging.Error(err))
		}
	}
	d.Stop()
	return d.Err()
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("api_base_url", cfg.API.BaseURL),
		logging.Int("dimension", cfg.Voxelise.Dimension),
		logging.Int("threads", cfg.Voxelise.Threads),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
