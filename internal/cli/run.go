package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/loadprobe/internal/config"
	"github.com/hamed0406/loadprobe/internal/logging"
	"github.com/hamed0406/loadprobe/internal/probe"
	"github.com/hamed0406/loadprobe/internal/scheduler"
)

// run merges the configuration, builds every probe up front and supervises
// the workers until SIGINT/SIGTERM or the command context ends. Any error
// returned before the workers start is a configuration error.
func (a *App) run(cmd *cobra.Command, mode config.Mode) error {
	lookup := a.lookup
	if lookup == nil {
		lookup = a.LookupEnv
	}
	cfg, err := config.Merge(config.Default(mode), flagLayer(cmd.Flags()), config.EnvLayer(mode, lookup))
	if err != nil {
		return err
	}

	base, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return &config.Error{Option: "log_dir", Err: err}
	}
	logger := logging.ForRun(base, cfg)
	defer func() { _ = logger.Sync() }()

	construct, err := probe.ConstructorFor(cfg)
	if err != nil {
		return err
	}
	probes, err := probe.Build(cfg, construct)
	if err != nil {
		logger.Error("startup_failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := probe.CloseAll(probes); err != nil {
			logger.Warn("probe_close_error", zap.Error(err))
		}
	}()

	if cfg.DryRun {
		logger.Info("preflight_passed", zap.Int("workers", len(probes)))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("run_started", append([]zap.Field{
		zap.Int("parallel", cfg.Parallel),
		zap.Duration("interval", cfg.Interval),
	}, cfg.TimeoutFields()...)...)

	if err := scheduler.NewSupervisor(logger, cfg).Run(ctx, probes); err != nil {
		return err
	}
	logger.Info("run_stopped", zap.NamedError("cause", context.Cause(ctx)))
	return nil
}
